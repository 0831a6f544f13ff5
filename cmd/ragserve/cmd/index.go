package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var clearExisting bool

	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Index a markdown or json-blocks document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(cmd.Context())
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			defer svc.Close()

			report, err := svc.IndexFile(cmd.Context(), args[0], clearExisting)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().BoolVar(&clearExisting, "clear-existing", false, "clear the entire collection before indexing")

	return cmd
}
