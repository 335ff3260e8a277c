package events

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// Module provides the in-process change bus and its SSE endpoint. Streams
// and subscriptions are closed when the app stops.
var Module = fx.Module("events",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes, closeOnStop),
)

// RegisterRoutes mounts the stream under the graph API; like every graph
// route it requires the project header.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/graph/events", scope.RequireProject())
	g.GET("", h.Stream)
	g.GET("/connections/count", h.ConnectionsCount)
}

func closeOnStop(lc fx.Lifecycle, svc *Service, h *Handler, log *slog.Logger) {
	lc.Append(fx.StopHook(func(context.Context) {
		log.Info("closing change streams", slog.Int("open", h.ConnectionCount()))
		h.Stop()
		svc.Close()
	}))
}
