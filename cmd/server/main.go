package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"codetoflows.com/backend/internal/config"
	"codetoflows.com/backend/internal/logger"
	"codetoflows.com/backend/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "codetoflows",
		Short:         "CodetoFlows diagram generation backend",
		Long:          `CodetoFlows turns source code, SQL schemas and project descriptions into Mermaid diagrams. This binary runs the HTTP API and its maintenance commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newCreditsCommand(),
		newUsersCommand(),
		newTokenCommand(),
		newCacheCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration, installs the logger and opens the store.
// Callers own the returned store.
func bootstrap(ctx context.Context) (*config.Config, *slog.Logger, *store.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	dbStore, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, log, dbStore, nil
}
