package schemaregistry

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// RegisterRoutes registers schema registry routes
func RegisterRoutes(e *echo.Echo, h *Handler, limiter *scope.WriteLimiter) {
	g := e.Group("/api/schemas")
	g.Use(scope.RequireProject(), limiter.Middleware())

	g.POST("", h.Register)
	g.GET("", h.List)
	g.DELETE("/:kind/:type", h.Delete)
}
