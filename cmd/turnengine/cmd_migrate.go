package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/harrowgate/turnengine/internal/config"
	"github.com/harrowgate/turnengine/pkg/store/postgres"
)

// defaultEmbeddingDimensions matches text-embedding-3-small, the sensible
// default when a deployment has not configured its own embedding backend yet.
const defaultEmbeddingDimensions = 1536

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema (tables, indexes, pgvector extension)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx := cmd.Context()
		slog.Info("applying schema", "database", cfg.Database.PostgresDSN)

		// NewStore runs postgres.Migrate as part of construction, so opening
		// and immediately closing the store is sufficient here.
		store, err := postgres.NewStore(ctx, cfg.Database.PostgresDSN, defaultEmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer store.Close()

		slog.Info("schema applied")
		return nil
	},
}
