package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent.graph/domain/graph"
)

var errDefectsFound = errors.New("lineage defects found")

func newAuditCommand(g *globals) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check that every version chain is contiguous and correctly linked",
		Long: `audit scans objects and relationships for canonical ids whose versions
do not run 1..n or whose supersedes_id does not point at the previous version.

Exits non-zero when defects are found.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.validateOutput(); err != nil {
				return err
			}
			var projectID *uuid.UUID
			if project != "" {
				id, err := uuid.Parse(project)
				if err != nil {
					return fmt.Errorf("invalid --project: %w", err)
				}
				projectID = &id
			}

			db, err := g.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			log := g.logger()
			auditor := graph.NewAuditor(graph.NewRepository(db, log), log)
			report, err := auditor.Run(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			if err := renderAudit(cmd, g.output, report); err != nil {
				return err
			}
			if len(report.Defects) > 0 {
				return errDefectsFound
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "limit the audit to one project id")
	return cmd
}

func renderAudit(cmd *cobra.Command, output string, report *graph.AuditReport) error {
	w := stdout(cmd)
	if output == "json" {
		return writeJSON(w, report)
	}
	if len(report.Defects) == 0 {
		_, err := fmt.Fprintf(w, "No lineage defects (%s)\n", report.Duration.Round(1e6))
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Entity", "Project", "Canonical ID", "Versions", "Min", "Max", "Broken links")
	for _, d := range report.Defects {
		if err := table.Append(
			d.Entity,
			d.ProjectID.String(),
			d.CanonicalID.String(),
			strconv.Itoa(d.Versions),
			strconv.Itoa(d.MinVersion),
			strconv.Itoa(d.MaxVersion),
			strconv.Itoa(d.BrokenLinks),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
