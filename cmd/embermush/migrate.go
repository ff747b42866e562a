// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/embermush/embermush/internal/config"
	"github.com/embermush/embermush/internal/store"
)

// newMigrateCmd creates the migrate subcommand tree.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, or inspect schema migrations on the PostgreSQL database.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

// addStoreDSNFlag registers the store.dsn flag so each migrate subcommand can
// override the configured database independently.
func addStoreDSNFlag(cmd *cobra.Command) {
	cmd.Flags().String("store.dsn", config.Default().Store.DSN, "PostgreSQL connection string")
}

// openMigrator resolves the DSN from config plus flags and opens a Migrator.
func openMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m, err := store.NewMigrator(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrator: %w", err)
	}
	return m, nil
}

func closeMigrator(cmd *cobra.Command, m *store.Migrator) {
	if err := m.Close(); err != nil {
		cmd.PrintErrln("warning: error closing migrator:", err)
	}
}

func newMigrateUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
			}
			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
	addStoreDSNFlag(cmd)
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			if all {
				cmd.Println("Rolling back all migrations...")
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
			} else {
				cmd.Println("Rolling back one migration...")
				if err := m.Steps(-1); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down one").Wrap(err)
				}
			}
			cmd.Println("Rollback completed successfully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	addStoreDSNFlag(cmd)
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			schemaVersion, dirty, err := m.Version()
			if err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
			}
			if schemaVersion == 0 {
				cmd.Println("No migrations applied")
				return nil
			}
			cmd.Printf("Schema version: %d (dirty: %t)\n", schemaVersion, dirty)
			return nil
		},
	}
	addStoreDSNFlag(cmd)
	return cmd
}

func newMigrateForceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version without running migrations",
		Long: `Force the recorded schema version without running any migrations.
Used to repair a dirty migration state after a failed migration
has been cleaned up by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}

			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			if err := m.Force(target); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "force").Wrap(err)
			}
			cmd.Printf("Schema version forced to %d\n", target)
			return nil
		},
	}
	addStoreDSNFlag(cmd)
	return cmd
}
