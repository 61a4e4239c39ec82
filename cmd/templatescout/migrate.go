package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/store"
)

// migrateCmd creates the "migrate" subcommand for managing the schema.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the state database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logger, err := openMigrationDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return store.MigrateUp(db.DB, logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default: one step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			db, logger, err := openMigrationDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return store.MigrateDown(db.DB, steps, logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openMigrationDB()
			if err != nil {
				return err
			}
			defer db.Close()
			version, dirty, err := store.MigrationVersion(db.DB)
			if err != nil {
				return err
			}
			fmt.Printf("Schema version: %d", version)
			if dirty {
				fmt.Print(" (dirty)")
			}
			fmt.Println()
			return nil
		},
	})

	return cmd
}

// openMigrationDB connects to the configured database without running the
// automatic migration that store.Open performs.
func openMigrationDB() (*sqlx.DB, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not set (TEMPLATESCOUT_DATABASE_DSN)")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})).With("component", "migrate")

	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, logger, nil
}
