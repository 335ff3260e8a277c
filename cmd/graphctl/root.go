package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/internal/version"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	dsn    string
	output string
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "graphctl",
		Short: "Administer the graph store database",
		Long: `graphctl applies schema migrations, audits version lineage and
registers type schemas in bulk.

The database is taken from --dsn, or from DATABASE_URL / POSTGRES_* like the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "output format (table, json)")

	root.AddCommand(
		newMigrateCommand(g),
		newAuditCommand(g),
		newSchemaCommand(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the graphctl build",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := fmt.Fprintln(stdout(cmd), version.Info())
				return err
			},
		},
	)
	return root
}

func (g *globals) logger() *slog.Logger {
	return logger.NewLogger()
}

// config loads the server configuration, applying --dsn on top.
func (g *globals) config() (*config.Config, error) {
	cfg, err := config.NewConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}
	if g.dsn != "" {
		cfg.Database.URL = g.dsn
	}
	return cfg, nil
}

// openDB connects through pgdriver; the CLI needs no pool tuning.
func (g *globals) openDB() (*bun.DB, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func (g *globals) validateOutput() error {
	switch g.output {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use table or json)", g.output)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdout(cmd *cobra.Command) io.Writer {
	if w := cmd.OutOrStdout(); w != nil {
		return w
	}
	return os.Stdout
}
