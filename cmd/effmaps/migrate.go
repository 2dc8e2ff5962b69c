package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run history schema",
	}
	cmd.PersistentFlags().String("history-db", "", "SQLite run history database")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(d *db.DB) error {
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return printVersion(cmd, d)
			})
		},
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(d *db.DB) error {
				return d.MigrateDown()
			})
		},
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(d *db.DB) error {
				return printVersion(cmd, d)
			})
		},
	}
	gotoCmd := &cobra.Command{
		Use:   "goto VERSION",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withHistory(cmd, func(d *db.DB) error {
				if err := d.MigrateTo(uint(v)); err != nil {
					return err
				}
				return printVersion(cmd, d)
			})
		},
	}
	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withHistory(cmd, func(d *db.DB) error {
				return d.MigrateForce(v)
			})
		},
	}
	cmd.AddCommand(up, down, gotoCmd, force, version)
	return cmd
}

func withHistory(cmd *cobra.Command, fn func(*db.DB) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.GetHistoryDB()
	if path == "" {
		return fmt.Errorf("no history database: set history_db or --history-db")
	}
	d, err := db.OpenDB(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer d.Close()
	return fn(d)
}

func printVersion(cmd *cobra.Command, d *db.DB) error {
	v, dirty, err := d.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (latest %d, dirty=%t)\n", v, latest, dirty)
	return nil
}
