package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/scheduler"
)

// MetricsHandler serves the prometheus scrape and store statistics.
type MetricsHandler struct {
	db        bun.IDB
	events    *events.Service
	scheduler *scheduler.Scheduler
	prom      http.Handler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db bun.IDB, ev *events.Service, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:        db,
		events:    ev,
		scheduler: sched,
		prom:      promhttp.Handler(),
	}
}

// Prometheus serves the default registry.
// GET /metrics
func (h *MetricsHandler) Prometheus(c echo.Context) error {
	h.prom.ServeHTTP(c.Response(), c.Request())
	return nil
}

// TableStats counts rows of one versioned table.
type TableStats struct {
	Table      string `json:"table" bun:"-"`
	Versions   int64  `json:"versions" bun:"versions"`
	Heads      int64  `json:"heads" bun:"heads"`
	Tombstones int64  `json:"tombstones" bun:"tombstones"`
}

// GraphMetrics is the response of the store statistics endpoint.
type GraphMetrics struct {
	Tables           []TableStats `json:"tables"`
	EventSubscribers int          `json:"event_subscribers"`
	Timestamp        string       `json:"timestamp"`
}

// GraphStats returns version, head and tombstone counts.
// GET /api/metrics/graph
func (h *MetricsHandler) GraphStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var tables []TableStats
	for _, table := range []string{"kb.graph_objects", "kb.graph_relationships"} {
		stats, err := h.tableStats(ctx, table)
		if err != nil {
			return err
		}
		tables = append(tables, *stats)
	}

	return c.JSON(http.StatusOK, GraphMetrics{
		Tables:           tables,
		EventSubscribers: h.events.TotalSubscriberCount(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MetricsHandler) tableStats(ctx context.Context, table string) (*TableStats, error) {
	query := `
		SELECT
			COUNT(*) AS versions,
			COUNT(*) FILTER (WHERE NOT EXISTS (
				SELECT 1 FROM ? AS newer
				WHERE newer.canonical_id = t.canonical_id AND newer.version > t.version)) AS heads,
			COUNT(*) FILTER (WHERE t.deleted_at IS NOT NULL AND NOT EXISTS (
				SELECT 1 FROM ? AS newer
				WHERE newer.canonical_id = t.canonical_id AND newer.version > t.version)) AS tombstones
		FROM ? AS t`

	stats := &TableStats{Table: table}
	err := h.db.NewRaw(query, bun.Ident(table), bun.Ident(table), bun.Ident(table)).Scan(ctx, stats)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// SchedulerMetrics returns the scheduled tasks and their next runs.
// GET /api/metrics/scheduler
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.GetTaskInfo(),
	})
}
