package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
)

// LineageDefect is a canonical id whose version chain is broken: versions
// not contiguous from 1, or a supersedes_id that does not point at the
// previous version.
type LineageDefect struct {
	Entity      string    `bun:"-" json:"entity"`
	ProjectID   uuid.UUID `bun:"project_id" json:"project_id"`
	CanonicalID uuid.UUID `bun:"canonical_id" json:"canonical_id"`
	Versions    int       `bun:"versions" json:"versions"`
	MinVersion  int       `bun:"min_version" json:"min_version"`
	MaxVersion  int       `bun:"max_version" json:"max_version"`
	BrokenLinks int       `bun:"broken_links" json:"broken_links"`
}

// AuditReport is the result of one lineage scan.
type AuditReport struct {
	ProjectID *uuid.UUID      `json:"project_id,omitempty"`
	Objects   int             `json:"object_defects"`
	Relations int             `json:"relationship_defects"`
	Defects   []LineageDefect `json:"defects"`
	Duration  time.Duration   `json:"duration"`
}

// lineageQuery groups every version by canonical id. A link is broken when
// v1 supersedes something, or when v>1 does not supersede v-1 of the same id.
const lineageQuery = `
SELECT t.project_id, t.canonical_id,
	count(*) AS versions,
	min(t.version) AS min_version,
	max(t.version) AS max_version,
	count(*) FILTER (WHERE
		(t.version = 1 AND t.supersedes_id IS NOT NULL) OR
		(t.version > 1 AND (prev.id IS NULL
			OR prev.canonical_id <> t.canonical_id
			OR prev.version <> t.version - 1))
	) AS broken_links
FROM ? AS t
LEFT JOIN ? AS prev ON prev.id = t.supersedes_id
WHERE (?::uuid IS NULL OR t.project_id = ?::uuid)
GROUP BY t.project_id, t.canonical_id
HAVING min(t.version) <> 1
	OR max(t.version) <> count(*)
	OR count(*) FILTER (WHERE
		(t.version = 1 AND t.supersedes_id IS NOT NULL) OR
		(t.version > 1 AND (prev.id IS NULL
			OR prev.canonical_id <> t.canonical_id
			OR prev.version <> t.version - 1))
	) > 0
ORDER BY t.project_id, t.canonical_id
LIMIT ?`

// LineageDefects scans one table. projectID nil scans every project.
func (r *Repository) LineageDefects(ctx context.Context, entity string, projectID *uuid.UUID, limit int) ([]LineageDefect, error) {
	table := "kb.graph_objects"
	if entity == entityRelationship {
		table = "kb.graph_relationships"
	}
	var rows []LineageDefect
	err := r.db.NewRaw(lineageQuery, bun.Ident(table), bun.Ident(table), projectID, projectID, limit).Scan(ctx, &rows)
	if err != nil {
		return nil, wrapDBError("lineage audit", err)
	}
	for i := range rows {
		rows[i].Entity = entity
	}
	return rows, nil
}

// maxAuditDefects bounds how many defects one scan reports per table.
const maxAuditDefects = 1000

// Auditor checks version chains of objects and relationships.
type Auditor struct {
	repo *Repository
	log  *slog.Logger
}

// NewAuditor creates a lineage auditor.
func NewAuditor(repo *Repository, log *slog.Logger) *Auditor {
	return &Auditor{
		repo: repo,
		log:  log.With(logger.Scope("graph.audit")),
	}
}

// Run scans both tables, logs every defect and publishes the counts as gauges.
func (a *Auditor) Run(ctx context.Context, projectID *uuid.UUID) (*AuditReport, error) {
	start := time.Now()
	report := &AuditReport{ProjectID: projectID}

	for _, entity := range []string{entityObject, entityRelationship} {
		defects, err := a.repo.LineageDefects(ctx, entity, projectID, maxAuditDefects)
		if err != nil {
			return nil, fmt.Errorf("audit %s lineage: %w", entity, err)
		}
		for _, d := range defects {
			a.log.Warn("broken lineage",
				slog.String("entity", d.Entity),
				slog.String("project_id", d.ProjectID.String()),
				slog.String("canonical_id", d.CanonicalID.String()),
				slog.Int("versions", d.Versions),
				slog.Int("min_version", d.MinVersion),
				slog.Int("max_version", d.MaxVersion),
				slog.Int("broken_links", d.BrokenLinks),
			)
		}
		if projectID == nil {
			metrics.LineageDefects.WithLabelValues(entity).Set(float64(len(defects)))
		}
		if entity == entityObject {
			report.Objects = len(defects)
		} else {
			report.Relations = len(defects)
		}
		report.Defects = append(report.Defects, defects...)
	}

	report.Duration = time.Since(start)
	a.log.Info("lineage audit finished",
		slog.Int("object_defects", report.Objects),
		slog.Int("relationship_defects", report.Relations),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}
