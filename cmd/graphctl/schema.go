package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

func newSchemaCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage per-project type schemas",
	}
	cmd.AddCommand(newSchemaLoadCommand(g), newSchemaListCommand(g))
	return cmd
}

func newSchemaLoadCommand(g *globals) *cobra.Command {
	var (
		project string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Register every schema declared in a YAML file",
		Long: `load registers each entry of the file as a new schema version.
Running servers drop their cached validators when REDIS_URL is shared with them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.validateOutput(); err != nil {
				return err
			}
			projectID, err := uuid.Parse(project)
			if err != nil {
				return fmt.Errorf("--project must be a project id: %w", err)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			inputs, err := parseSchemaFile(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			if dryRun {
				_, err := fmt.Fprintf(stdout(cmd), "%d schema(s) parsed, nothing registered\n", len(inputs))
				return err
			}

			svc, closeFn, err := g.schemaService()
			if err != nil {
				return err
			}
			defer closeFn()

			registered := make([]schemaregistry.TypeSchema, 0, len(inputs))
			for _, in := range inputs {
				row, err := svc.Register(cmd.Context(), projectID, in)
				if err != nil {
					return fmt.Errorf("register %s/%s: %w", in.Kind, in.TypeName, err)
				}
				registered = append(registered, *row)
			}
			return renderSchemas(cmd, g.output, registered)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id the schemas belong to")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and check the file without registering")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newSchemaListCommand(g *globals) *cobra.Command {
	var project, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active schemas of a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.validateOutput(); err != nil {
				return err
			}
			projectID, err := uuid.Parse(project)
			if err != nil {
				return fmt.Errorf("--project must be a project id: %w", err)
			}
			var k schemaregistry.Kind
			if kind != "" {
				if k, err = schemaregistry.ParseKind(kind); err != nil {
					return err
				}
			}

			svc, closeFn, err := g.schemaService()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := svc.List(cmd.Context(), projectID, k)
			if err != nil {
				return err
			}
			return renderSchemas(cmd, g.output, rows)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&kind, "kind", "", "object or relationship")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// schemaService wires the registry against the database, publishing
// invalidations over redis when it is configured.
func (g *globals) schemaService() (*schemaregistry.Service, func(), error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	db, err := g.openDB()
	if err != nil {
		return nil, nil, err
	}
	log := g.logger()

	bus, client, err := invalidationBus(cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if client != nil {
			_ = client.Close()
		}
		_ = db.Close()
	}
	return schemaregistry.NewService(schemaregistry.NewRepository(db), bus, log), closeFn, nil
}

func invalidationBus(cfg *config.Config, log *slog.Logger) (schemaregistry.Bus, *redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn("redis unreachable, running servers keep stale validators until restart",
			logger.Error(err))
	}
	return schemaregistry.NewRedisBus(client, cfg.Redis.Channel, log), client, nil
}

func renderSchemas(cmd *cobra.Command, output string, rows []schemaregistry.TypeSchema) error {
	w := stdout(cmd)
	if output == "json" {
		out := make([]schemaregistry.SchemaResponse, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].ToResponse())
		}
		return writeJSON(w, out)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Kind", "Type", "Version", "Multiplicity", "ID")
	for _, r := range rows {
		mult := ""
		if r.Multiplicity != nil {
			mult = string(*r.Multiplicity)
		}
		if err := table.Append(string(r.Kind), r.TypeName, strconv.Itoa(r.Version), mult, r.ID.String()); err != nil {
			return err
		}
	}
	return table.Render()
}
