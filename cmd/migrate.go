package main

import (
	"fmt"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run ticket database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	cfg := config.MustLoad()
	logger := setupLogger(cfg.Env)

	applied, err := repository.MigrateUp(cfg.Database)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if applied {
		logger.InfoContext(cmd.Context(), "Migrations applied")
	} else {
		logger.InfoContext(cmd.Context(), "Schema is up to date")
	}
	return nil
}
