package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/phasegate/internal/adapter/postgres"
	"github.com/Strob0t/phasegate/internal/config"
)

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Manage the PostgreSQL schema used by the postgres store backend and the
event log. The DSN comes from --dsn, DATABASE_URL, or postgres.dsn.

Examples:
  phasegate migrate up
  phasegate migrate down --steps 1
  phasegate migrate version`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := migrationConfig(cmd)
		if err != nil {
			return err
		}
		if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Migrations applied.")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if rollbackSteps < 1 {
			return errors.New("--steps must be >= 1")
		}
		cfg, err := migrationConfig(cmd)
		if err != nil {
			return err
		}
		if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, rollbackSteps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Rolled back %d migration(s).\n", rollbackSteps)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := migrationConfig(cmd)
		if err != nil {
			return err
		}
		v, err := postgres.MigrationVersion(cmd.Context(), cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func migrationConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("migrate: no PostgreSQL DSN configured")
	}
	return cfg, nil
}
