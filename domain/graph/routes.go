package graph

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// RegisterRoutes registers all graph routes.
func RegisterRoutes(e *echo.Echo, h *Handler, limiter *scope.WriteLimiter) {
	// Every graph route is scoped to the X-Project-ID project
	g := e.Group("/api/graph")
	g.Use(scope.RequireProject(), limiter.Middleware())

	// Object routes
	objects := g.Group("/objects")
	objects.GET("", h.ListObjects)
	objects.POST("", h.CreateObject)
	objects.PUT("/upsert", h.UpsertObject)
	objects.GET("/by-key/:type/:key", h.GetObjectByKey)
	objects.GET("/:id", h.GetObject)
	objects.PATCH("/:id", h.PatchObject)
	objects.DELETE("/:id", h.DeleteObject)
	objects.POST("/:id/restore", h.RestoreObject)
	objects.GET("/:id/history", h.GetObjectHistory)
	objects.GET("/:id/edges", h.GetObjectEdges)

	// Relationship routes
	relationships := g.Group("/relationships")
	relationships.POST("", h.CreateRelationship)
	relationships.GET("/search", h.ListRelationships)
	relationships.GET("/:id", h.GetRelationship)
	relationships.PATCH("/:id", h.PatchRelationship)
	relationships.DELETE("/:id", h.DeleteRelationship)
	relationships.POST("/:id/restore", h.RestoreRelationship)
	relationships.GET("/:id/history", h.GetRelationshipHistory)

	// Query routes
	g.POST("/traverse", h.Traverse)
	g.POST("/search", h.HybridSearch)
}
