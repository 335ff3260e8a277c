package graph

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// Handler handles HTTP requests for graph operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new graph handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.NewBadRequest("invalid " + what + " id")
	}
	return id, nil
}

func queryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.NewBadRequest("invalid " + name)
	}
	return n, nil
}

// queryID parses an optional uuid query parameter.
func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.NewBadRequest("invalid " + name)
	}
	return &id, nil
}

// queryList accepts both repeated (?types=a&types=b) and comma separated values.
func queryList(c echo.Context, names ...string) []string {
	var out []string
	for _, name := range names {
		for _, v := range c.QueryParams()[name] {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

// ListObjects returns object heads matching query parameters.
// GET /api/graph/objects?type=&label=&key=&filter={json}&include_deleted=&limit=&cursor=
func (h *Handler) ListObjects(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	params := ListParams{
		ProjectID:      scope.ProjectID(c),
		Types:          queryList(c, "type", "types"),
		Labels:         queryList(c, "label", "labels"),
		IncludeDeleted: queryBool(c, "include_deleted"),
		Limit:          limit,
		Cursor:         c.QueryParam("cursor"),
	}
	if key := c.QueryParam("key"); key != "" {
		params.Key = &key
	}
	if raw := c.QueryParam("filter"); raw != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return apperror.NewBadRequest("filter must be a JSON object")
		}
		filters, err := ParseFilter(doc)
		if err != nil {
			return err
		}
		params.PropertyFilters = filters
	}

	rows, next, err := h.svc.ListObjects(c.Request().Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse{Items: objectResponses(rows), NextCursor: next})
}

// GetObject returns the head of an object.
// GET /api/graph/objects/:id?include_deleted=true
func (h *Handler) GetObject(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	obj, err := h.svc.GetObject(c.Request().Context(), scope.ProjectID(c), id, queryBool(c, "include_deleted"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj.ToResponse())
}

// GetObjectByKey returns the live head holding (type, key).
// GET /api/graph/objects/by-key/:type/:key
func (h *Handler) GetObjectByKey(c echo.Context) error {
	obj, err := h.svc.GetObjectByKey(c.Request().Context(), scope.ProjectID(c), c.Param("type"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj.ToResponse())
}

// CreateObject creates a new graph object.
// POST /api/graph/objects
func (h *Handler) CreateObject(c echo.Context) error {
	var req CreateGraphObjectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.Type == "" {
		return apperror.NewBadRequest("type is required")
	}

	obj, err := h.svc.CreateObject(c.Request().Context(), scope.ProjectID(c), CreateObjectInput{
		Type:       req.Type,
		Key:        req.Key,
		Properties: req.Properties,
		Labels:     req.Labels,
		Embedding:  req.Embedding,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, obj.ToResponse())
}

// UpsertObject creates or patches the object holding (type, key).
// PUT /api/graph/objects/upsert
func (h *Handler) UpsertObject(c echo.Context) error {
	var req UpsertGraphObjectRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.Type == "" {
		return apperror.NewBadRequest("type is required")
	}

	obj, created, err := h.svc.UpsertObject(c.Request().Context(), scope.ProjectID(c), UpsertObjectInput{
		Type:       req.Type,
		Key:        req.Key,
		Properties: req.Properties,
		Labels:     req.Labels,
		Embedding:  req.Embedding,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, UpsertResponse{Object: obj.ToResponse(), Created: created})
}

// PatchObject updates a graph object by creating a new version.
// PATCH /api/graph/objects/:id
func (h *Handler) PatchObject(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	// Decoded directly so explicit nulls survive as property removals.
	var req PatchGraphObjectRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	obj, err := h.svc.PatchObject(c.Request().Context(), scope.ProjectID(c), id, PatchObjectInput{
		Properties:      req.Properties,
		Labels:          LabelDelta{Add: req.AddLabels, Remove: req.RemoveLabels},
		Embedding:       req.Embedding,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj.ToResponse())
}

// DeleteObject soft-deletes a graph object.
// DELETE /api/graph/objects/:id
func (h *Handler) DeleteObject(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	obj, err := h.svc.DeleteObject(c.Request().Context(), scope.ProjectID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj.ToResponse())
}

// RestoreObject restores a soft-deleted graph object.
// POST /api/graph/objects/:id/restore
func (h *Handler) RestoreObject(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	obj, err := h.svc.RestoreObject(c.Request().Context(), scope.ProjectID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj.ToResponse())
}

// GetObjectHistory returns version history for a graph object.
// GET /api/graph/objects/:id/history?before_version=&limit=
func (h *Handler) GetObjectHistory(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	before, err := queryInt(c, "before_version")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}

	versions, next, err := h.svc.ObjectHistory(c.Request().Context(), scope.ProjectID(c), id, before, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ObjectHistoryResponse{Versions: objectResponses(versions), NextBefore: next})
}

// GetObjectEdges lists relationship heads touching an object.
// GET /api/graph/objects/:id/edges?direction=&type=&include_deleted=
func (h *Handler) GetObjectEdges(c echo.Context) error {
	id, err := parseID(c, "object")
	if err != nil {
		return err
	}
	dir, err := ParseDirection(c.QueryParam("direction"))
	if err != nil {
		return err
	}

	rels, err := h.svc.ListEdges(c.Request().Context(), scope.ProjectID(c), id, dir,
		queryList(c, "type", "types"), queryBool(c, "include_deleted"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, EdgesResponse{Items: relationshipResponses(rels), Total: len(rels)})
}

// CreateRelationship creates a relationship, or returns the identical live one.
// POST /api/graph/relationships
func (h *Handler) CreateRelationship(c echo.Context) error {
	var req CreateGraphRelationshipRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	rel, created, err := h.svc.CreateRelationship(c.Request().Context(), scope.ProjectID(c), CreateRelationshipInput{
		Type:       req.Type,
		SrcID:      req.SrcID,
		DstID:      req.DstID,
		Properties: req.Properties,
		Weight:     req.Weight,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, CreateRelationshipResponse{GraphRelationshipResponse: rel.ToResponse(), Deduplicated: !created})
}

// ListRelationships returns relationship heads matching query parameters.
// GET /api/graph/relationships/search?type=&src_id=&dst_id=&include_deleted=&limit=&cursor=
func (h *Handler) ListRelationships(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	params := RelationshipListParams{
		ProjectID:      scope.ProjectID(c),
		Types:          queryList(c, "type", "types"),
		IncludeDeleted: queryBool(c, "include_deleted"),
		Limit:          limit,
		Cursor:         c.QueryParam("cursor"),
	}
	if params.SrcID, err = queryID(c, "src_id"); err != nil {
		return err
	}
	if params.DstID, err = queryID(c, "dst_id"); err != nil {
		return err
	}

	rows, next, err := h.svc.ListRelationships(c.Request().Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RelationshipListResponse{Items: relationshipResponses(rows), NextCursor: next})
}

// GetRelationship returns the head of a relationship.
// GET /api/graph/relationships/:id?include_deleted=true
func (h *Handler) GetRelationship(c echo.Context) error {
	id, err := parseID(c, "relationship")
	if err != nil {
		return err
	}
	rel, err := h.svc.GetRelationship(c.Request().Context(), scope.ProjectID(c), id, queryBool(c, "include_deleted"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel.ToResponse())
}

// PatchRelationship updates a relationship by creating a new version.
// PATCH /api/graph/relationships/:id
func (h *Handler) PatchRelationship(c echo.Context) error {
	id, err := parseID(c, "relationship")
	if err != nil {
		return err
	}
	var req PatchGraphRelationshipRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	rel, err := h.svc.PatchRelationship(c.Request().Context(), scope.ProjectID(c), id, PatchRelationshipInput{
		Properties:      req.Properties,
		Weight:          req.Weight,
		ValidFrom:       req.ValidFrom,
		ValidTo:         req.ValidTo,
		SrcID:           req.SrcID,
		DstID:           req.DstID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel.ToResponse())
}

// DeleteRelationship soft-deletes a relationship.
// DELETE /api/graph/relationships/:id
func (h *Handler) DeleteRelationship(c echo.Context) error {
	id, err := parseID(c, "relationship")
	if err != nil {
		return err
	}
	rel, err := h.svc.DeleteRelationship(c.Request().Context(), scope.ProjectID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel.ToResponse())
}

// RestoreRelationship restores a soft-deleted relationship.
// POST /api/graph/relationships/:id/restore
func (h *Handler) RestoreRelationship(c echo.Context) error {
	id, err := parseID(c, "relationship")
	if err != nil {
		return err
	}
	rel, err := h.svc.RestoreRelationship(c.Request().Context(), scope.ProjectID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel.ToResponse())
}

// GetRelationshipHistory returns version history for a relationship.
// GET /api/graph/relationships/:id/history?before_version=&limit=
func (h *Handler) GetRelationshipHistory(c echo.Context) error {
	id, err := parseID(c, "relationship")
	if err != nil {
		return err
	}
	before, err := queryInt(c, "before_version")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}

	versions, next, err := h.svc.RelationshipHistory(c.Request().Context(), scope.ProjectID(c), id, before, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RelationshipHistoryResponse{Versions: relationshipResponses(versions), NextBefore: next})
}

// Traverse runs a bounded breadth-first traversal.
// POST /api/graph/traverse
func (h *Handler) Traverse(c echo.Context) error {
	var req TraverseRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	dir, err := ParseDirection(req.Direction)
	if err != nil {
		return err
	}

	result, err := h.svc.Traverse(c.Request().Context(), TraverseParams{
		ProjectID: scope.ProjectID(c),
		Roots:     req.RootIDs,
		MaxDepth:  req.MaxDepth,
		MaxNodes:  req.MaxNodes,
		Types:     req.RelationshipTypes,
		Direction: dir,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HybridSearch fuses lexical and vector search over live heads.
// POST /api/graph/search
func (h *Handler) HybridSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	filters, err := ParseFilter(req.Filter)
	if err != nil {
		return err
	}

	hits, err := h.svc.Search(c.Request().Context(), SearchParams{
		ProjectID:     scope.ProjectID(c),
		Query:         req.Query,
		Vector:        req.Vector,
		Types:         req.Types,
		Labels:        req.Labels,
		Filters:       filters,
		Limit:         req.Limit,
		LexicalWeight: req.LexicalWeight,
		VectorWeight:  req.VectorWeight,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, searchResponse(hits))
}
