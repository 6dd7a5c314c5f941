// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/storyengine/internal/config"
	"github.com/holomush/storyengine/internal/store"
)

// migratorFactory opens the migrator the migrate subcommands drive.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply or roll back the schema used by the postgres queue backend,
staging records and read state. The database comes from database-url in the
config file or the DATABASE_URL environment variable.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Migrate N steps up, or down when N is negative",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("input", args[0]).Errorf("steps must be an integer")
			}
			if err := m.Steps(n); err != nil {
				return err
			}
			cmd.Printf("Migrated %d step(s)\n", n)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Println(formatVersion(v, dirty))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied without running it",
		Long:  `Record VERSION as applied without running it. Use this to recover a dirty schema.`,
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced schema version %d\n", v)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return err
			}
			cmd.Print(formatStatus(st))
			return nil
		}),
	})

	return cmd
}

// withMigrator opens a migrator for the configured database around fn.
func withMigrator(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		databaseURL, err := getDatabaseURL()
		if err != nil {
			return err
		}
		m, err := migratorFactory(databaseURL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, m, args)
	}
}

// getDatabaseURL reads database-url from the config file, falling back to
// DATABASE_URL.
func getDatabaseURL() (string, error) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database-url or the DATABASE_URL environment variable is required")
	}
	return cfg.DatabaseURL, nil
}

// parseForceVersion reads a leading integer. Trailing characters are ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return v, nil
}

func formatVersion(v uint, dirty bool) string {
	if v == 0 {
		return "No migrations applied"
	}
	name, err := store.MigrationName(v)
	if err != nil || name == "" {
		name = strconv.FormatUint(uint64(v), 10)
	}
	if dirty {
		return fmt.Sprintf("Version %d (%s), dirty: run 'migrate force' after fixing the schema", v, name)
	}
	return fmt.Sprintf("Version %d (%s)", v, name)
}

func formatStatus(st store.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Current)
	if st.Dirty {
		b.WriteString(" (dirty)")
	}
	b.WriteString("\n")
	for _, mig := range st.Applied {
		fmt.Fprintf(&b, "  [x] %s\n", mig.Name)
	}
	for _, mig := range st.Pending {
		fmt.Fprintf(&b, "  [ ] %s\n", mig.Name)
	}
	return b.String()
}
