// Package scope carries the project a request operates on.
//
// Every graph query is filtered by project, so handlers read the project from
// the echo context populated by RequireProject and never from the body.
package scope

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

// Header names the request header holding the project id.
const Header = "X-Project-ID"

const contextKey = "graph.project_id"

// RequireProject rejects requests without a valid X-Project-ID header.
func RequireProject() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(Header))
			if raw == "" {
				return apperror.NewBadRequest(Header + " header is required")
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				return apperror.NewBadRequest(Header + " must be a UUID")
			}
			c.Set(contextKey, id)
			return next(c)
		}
	}
}

// ProjectID returns the project set by RequireProject, or uuid.Nil.
func ProjectID(c echo.Context) uuid.UUID {
	if id, ok := c.Get(contextKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// SetProjectID stores a project on the context; used by tests and internal callers.
func SetProjectID(c echo.Context, id uuid.UUID) {
	c.Set(contextKey, id)
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
