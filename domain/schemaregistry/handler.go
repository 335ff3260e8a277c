package schemaregistry

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// Handler handles HTTP requests for the schema registry
type Handler struct {
	svc *Service
}

// NewHandler creates a new schema registry handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register handles POST /api/schemas
func (h *Handler) Register(c echo.Context) error {
	var req RegisterSchemaRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	row, err := h.svc.Register(c.Request().Context(), scope.ProjectID(c), RegisterInput{
		Kind:         Kind(req.Kind),
		TypeName:     req.Type,
		JSONSchema:   req.JSONSchema,
		Multiplicity: req.Multiplicity,
		Description:  req.Description,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, row.ToResponse())
}

// List handles GET /api/schemas?kind=object|relationship
func (h *Handler) List(c echo.Context) error {
	var kind Kind
	if raw := c.QueryParam("kind"); raw != "" {
		k, err := ParseKind(raw)
		if err != nil {
			return apperror.NewBadRequest(err.Error())
		}
		kind = k
	}

	rows, err := h.svc.List(c.Request().Context(), scope.ProjectID(c), kind)
	if err != nil {
		return err
	}
	items := make([]SchemaResponse, len(rows))
	for i := range rows {
		items[i] = rows[i].ToResponse()
	}
	return c.JSON(http.StatusOK, SchemaListResponse{Items: items, Total: len(items)})
}

// Delete handles DELETE /api/schemas/:kind/:type
func (h *Handler) Delete(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	typeName := c.Param("type")
	if typeName == "" {
		return apperror.NewBadRequest("type is required")
	}

	row, err := h.svc.Delete(c.Request().Context(), scope.ProjectID(c), kind, typeName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, row.ToResponse())
}
