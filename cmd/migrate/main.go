package main

import (
	"database/sql"
	"fmt"
	"os"

	"RebalancePool/internal/config"
	"RebalancePool/internal/observability"
	"RebalancePool/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	logger := observability.NewLogger("migrate")

	// Uses the service config so POOL_POSTGRES_DSN and POOL_MIGRATIONS_DIR apply here too.
	open := func() (*persistence.Migrator, *sql.DB, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return persistence.NewMigrator(db, cfg.MigrationsDir, logger), db, nil
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back event log and projection schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/rebalancepool.yaml", "path to YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Up(cmd.Context()); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info().Msg("all migrations applied")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Down(cmd.Context()); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			logger.Info().Msg("last migration rolled back")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			pending, err := m.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				return nil
			}
			for _, f := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), "pending", f)
			}
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
