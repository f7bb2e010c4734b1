package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abdulachik/aipulse/internal/config"
	"github.com/abdulachik/aipulse/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run all pending migrations of the sqlite store.

With --prune, also delete items fetched longer ago than the given duration
(for example 336h for the 14 day retention window). The latest trend snapshot
is always kept.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().Duration("prune", 0, "Delete items older than this age after migrating")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	prune, _ := cmd.Flags().GetDuration("prune")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if cfg.StoreBackend != config.BackendSQLite {
		slog.Info("nothing to migrate", "store", cfg.StoreBackend)
		return nil
	}

	slog.Info("connecting to database", "path", cfg.DatabasePath)
	st, err := store.NewSQLiteStore(ctx, cfg.DatabasePath, store.Options{UpsertConcurrency: cfg.UpsertConcurrency})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("migrations completed successfully")

	if prune > 0 {
		removed, err := st.Prune(ctx, prune)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		slog.Info("pruned expired rows", "older_than", prune, "removed", removed)
	}
	return nil
}
