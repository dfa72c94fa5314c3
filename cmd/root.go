// Package cmd holds the observer command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/observability/internal/config"
	"github.com/xiaot623/gogo/observability/internal/repository"
)

var version = "0.1.0"

// NewRootCmd builds the observer command. Running it without a subcommand
// starts the server.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "observer",
		Short:         "observer - correlate agent lifecycle events into traces, signals and run summaries",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $OBSERVER_CONFIG)")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newTraceCmd(&configPath))
	rootCmd.AddCommand(newSummarizeCmd(&configPath))
	rootCmd.AddCommand(newTailCmd())

	return rootCmd
}

// loadStore loads the configuration and opens the event database it names.
func loadStore(configPath string) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, nil
}
