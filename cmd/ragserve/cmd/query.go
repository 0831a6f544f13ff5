package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var topK int
	var includeChunks bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Answer a question grounded in the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(cmd.Context())
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			defer svc.Close()

			result, err := svc.Query(cmd.Context(), args[0], topK, includeChunks)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "override the configured top_k (0 uses config default)")
	cmd.Flags().BoolVar(&includeChunks, "include-chunks", false, "include the full retrieved chunk text in the response")

	return cmd
}
