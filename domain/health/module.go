package health

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/pkg/syshealth"
)

// Module provides the probe, prometheus and store statistics endpoints.
var Module = fx.Module("health",
	fx.Provide(
		NewHostMonitor,
		NewHandler,
		NewMetricsHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes mounts the probes at the root, where orchestrators expect
// them, and the JSON statistics under /api/metrics.
func RegisterRoutes(e *echo.Echo, h *Handler, m *MetricsHandler) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/ready", h.Ready)
	e.GET("/debug", h.Debug)
	e.GET("/metrics", m.Prometheus)

	stats := e.Group("/api/metrics")
	stats.GET("/graph", m.GraphStats)
	stats.GET("/scheduler", m.SchedulerMetrics)
}

// NewHostMonitor samples host pressure for the app lifetime. It returns nil
// when HOST_MONITOR_ENABLED is false.
func NewHostMonitor(lc fx.Lifecycle, cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *syshealth.Monitor {
	if !cfg.Host.Enabled {
		return nil
	}
	m := syshealth.NewMonitor(syshealth.DefaultConfig(cfg.Host.Interval), func() (int32, int32) {
		stat := pool.Stat()
		return stat.AcquiredConns(), stat.MaxConns()
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				m.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return m
}
