// Package cmd provides the CLI commands for ragserve.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragserve/ragserve/internal/embed"
	"github.com/ragserve/ragserve/internal/generate"
	"github.com/ragserve/ragserve/internal/service"
	"github.com/ragserve/ragserve/internal/vector"
	"github.com/ragserve/ragserve/pkg/config"
	"github.com/ragserve/ragserve/pkg/utils"
	"github.com/ragserve/ragserve/pkg/version"
)

var (
	dataDir   string
	embedHost string
)

// NewRootCmd creates the root command for the ragserve CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ragserve",
		Short:   "Local retrieval-augmented generation service",
		Long:    `ragserve chunks, embeds, and indexes local documents, then answers queries grounded in the retrieved passages.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("ragserve version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data/vectors", "vector_db_path: where the collection and config.json are stored")
	cmd.PersistentFlags().StringVar(&embedHost, "embed-host", "http://localhost:11434", "base URL of the Ollama-compatible embeddings backend")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// buildService wires a Service from the on-disk config snapshot plus
// the --data-dir/--embed-host flags, opening the VectorStore and
// constructing the Embedder/Generator backend clients.
func buildService(ctx context.Context) (*service.Service, error) {
	if err := utils.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	snap := config.Default()
	snap.VectorDBPath = dataDir

	cfgPath := filepath.Join(dataDir, "config.json")
	if utils.FileExists(cfgPath) {
		if err := config.NewFileLoader(cfgPath).Load(&snap); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	// RAGSERVE_-prefixed environment variables override the on-disk
	// snapshot, e.g. RAGSERVE_GENERATOR_ENDPOINT, RAGSERVE_TOP_K.
	if err := config.NewEnvLoader("RAGSERVE").Load(&snap); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	if err := config.Validate(snap); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	mgr := config.NewManager(snap)
	cfg := mgr.Get()

	embedder, err := embed.New(embed.Config{
		Host:       embedHost,
		Model:      cfg.EmbeddingModel,
		Dimension:  cfg.EmbeddingDimension,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		CacheSize:  2048,
	})
	if err != nil {
		return nil, fmt.Errorf("construct embedder: %w", err)
	}

	if cfg.EmbeddingDimension == 0 {
		probe, err := embedder.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			return nil, fmt.Errorf("probe embedding dimension: %w", err)
		}
		mgr.SetEmbeddingDimension(len(probe[0]))
		cfg = mgr.Get()
	}

	store, err := vector.Open(dataDir, cfg.EmbeddingDimension)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	generator := generate.New(cfg.GeneratorEndpoint, cfg.GeneratorModel, 2*time.Minute)

	svc := service.New(mgr, embedder, store, generator)

	if err := mgr.Save(cfgPath); err != nil {
		store.Close()
		return nil, fmt.Errorf("save config: %w", err)
	}

	return svc, nil
}
