package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent.graph/internal/migrate"
)

func newMigrateCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded schema migrations",
	}

	withMigrator := func(run func(cmd *cobra.Command, m *migrate.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := g.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			zl, err := migrate.NewZapLogger()
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()
			return run(cmd, migrate.NewMigratorFromSQL(db.DB, zl))
		}
	}

	var to string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			if to == "" {
				return m.Up(cmd.Context())
			}
			v, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				return fmt.Errorf("--to must be a migration version: %w", err)
			}
			return m.UpTo(cmd.Context(), v)
		}),
	}
	up.Flags().StringVar(&to, "to", "", "stop after this migration version")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			return m.Down(cmd.Context())
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			return m.Status(cmd.Context())
		}),
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrator) error {
			v, err := m.Version(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout(cmd), v)
			return err
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the embedded migration files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := migrate.Sources()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(stdout(cmd), n)
			}
			return nil
		},
	}

	cmd.AddCommand(up, down, status, version, list)
	return cmd
}
