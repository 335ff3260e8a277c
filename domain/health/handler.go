package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/internal/version"
	"github.com/emergent-company/emergent.graph/pkg/syshealth"
)

// Pool is the part of *pgxpool.Pool the probes use.
type Pool interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// HostProbe reports the latest host pressure sample.
type HostProbe interface {
	Snapshot() syshealth.Snapshot
}

// Handler serves the probe and debug endpoints.
type Handler struct {
	pool    Pool
	host    HostProbe
	cfg     *config.Config
	startAt time.Time
}

// NewHandler creates a new health handler. host is nil when monitoring is off.
func NewHandler(pool *pgxpool.Pool, cfg *config.Config, host *syshealth.Monitor) *Handler {
	if host == nil {
		return newHandler(pool, nil, cfg)
	}
	return newHandler(pool, host, cfg)
}

func newHandler(pool Pool, host HostProbe, cfg *config.Config) *Handler {
	return &Handler{
		pool:    pool,
		host:    host,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

const probeTimeout = 5 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check is one dependency's result inside HealthResponse.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Host    *syshealth.Snapshot `json:"host,omitempty"`
}

func (h *Handler) pingDB(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()
	return h.pool.Ping(ctx)
}

// Health reports uptime and the database check. 503 when the pool is unreachable.
func (h *Handler) Health(c echo.Context) error {
	db, code := Check{Status: "healthy"}, http.StatusOK
	if err := h.pingDB(c); err != nil {
		db, code = Check{Status: "unhealthy", Message: err.Error()}, http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{
		Status:    db.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).Truncate(time.Second).String(),
		Version:   version.Version,
		Checks:    map[string]Check{"database": db},
	})
}

// Healthz is the liveness probe; it never touches dependencies.
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready reports whether the store is reachable. Critical host pressure
// downgrades the status to degraded without failing the probe.
func (h *Handler) Ready(c echo.Context) error {
	if err := h.pingDB(c); err != nil {
		return c.JSON(http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Message: "database unreachable",
		})
	}

	resp := ReadyResponse{Status: "ready"}
	if h.host != nil {
		snap := h.host.Snapshot()
		resp.Host = &snap
		if snap.Zone == syshealth.ZoneCritical && !snap.Stale {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Debug dumps runtime, pool and host state. Hidden in production.
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stat := h.pool.Stat()

	body := map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"version":     version.Info(),
		"memory": map[string]any{
			"heap_mb": mem.HeapAlloc >> 20,
			"sys_mb":  mem.Sys >> 20,
			"num_gc":  mem.NumGC,
		},
	}
	if stat != nil {
		body["pool"] = map[string]any{
			"max":      stat.MaxConns(),
			"total":    stat.TotalConns(),
			"idle":     stat.IdleConns(),
			"acquired": stat.AcquiredConns(),
			"waits":    stat.EmptyAcquireCount(),
		}
	}
	if h.host != nil {
		body["host"] = h.host.Snapshot()
	}
	return c.JSON(http.StatusOK, body)
}
