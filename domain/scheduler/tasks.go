package scheduler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/emergent-company/emergent.graph/domain/graph"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

// LineageAuditor scans version chains; *graph.Auditor implements it.
type LineageAuditor interface {
	Run(ctx context.Context, projectID *uuid.UUID) (*graph.AuditReport, error)
}

// LineageAuditTask checks every project's version chains.
type LineageAuditTask struct {
	auditor LineageAuditor
	log     *slog.Logger
}

// NewLineageAuditTask creates a new lineage audit task
func NewLineageAuditTask(auditor LineageAuditor, log *slog.Logger) *LineageAuditTask {
	return &LineageAuditTask{
		auditor: auditor,
		log:     log.With(logger.Scope("scheduler.lineage_audit")),
	}
}

// Run executes the audit across all projects.
func (t *LineageAuditTask) Run(ctx context.Context) error {
	report, err := t.auditor.Run(ctx, nil)
	if err != nil {
		return err
	}
	if n := report.Objects + report.Relations; n > 0 {
		t.log.Error("lineage defects found",
			slog.Int("object_defects", report.Objects),
			slog.Int("relationship_defects", report.Relations))
	}
	return nil
}
