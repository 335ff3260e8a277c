package graph

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// CreateGraphObjectRequest is the request body for creating a graph object.
type CreateGraphObjectRequest struct {
	Type       string         `json:"type"`
	Key        *string        `json:"key,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// PatchGraphObjectRequest is the request body for patching a graph object.
// Patching creates a new version; a null property value removes it.
type PatchGraphObjectRequest struct {
	Properties      map[string]any `json:"properties,omitempty"`
	AddLabels       []string       `json:"add_labels,omitempty"`
	RemoveLabels    []string       `json:"remove_labels,omitempty"`
	Embedding       []float32      `json:"embedding,omitempty"`
	ExpectedVersion *int           `json:"expected_version,omitempty"`
}

// UpsertGraphObjectRequest creates or patches the object holding (type, key).
type UpsertGraphObjectRequest struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// GraphObjectResponse is the API response for a graph object.
type GraphObjectResponse struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	CanonicalID   uuid.UUID      `json:"canonical_id"`
	SupersedesID  *uuid.UUID     `json:"supersedes_id,omitempty"`
	Version       int            `json:"version"`
	Type          string         `json:"type"`
	Key           *string        `json:"key,omitempty"`
	Properties    map[string]any `json:"properties"`
	Labels        []string       `json:"labels"`
	ChangeSummary *ChangeSummary `json:"change_summary,omitempty"`
	ContentHash   string         `json:"content_hash,omitempty"`
	HasEmbedding  bool           `json:"has_embedding"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ToResponse converts a GraphObject entity to API response.
func (o *GraphObject) ToResponse() *GraphObjectResponse {
	labels := o.Labels
	if labels == nil {
		labels = []string{}
	}
	return &GraphObjectResponse{
		ID:            o.ID,
		ProjectID:     o.ProjectID,
		CanonicalID:   o.CanonicalID,
		SupersedesID:  o.SupersedesID,
		Version:       o.Version,
		Type:          o.Type,
		Key:           o.Key,
		Properties:    o.Properties,
		Labels:        labels,
		ChangeSummary: o.ChangeSummary,
		ContentHash:   hex.EncodeToString(o.ContentHash),
		HasEmbedding:  len(o.Embedding) > 0,
		DeletedAt:     o.DeletedAt,
		CreatedAt:     o.CreatedAt,
	}
}

func objectResponses(objs []*GraphObject) []*GraphObjectResponse {
	out := make([]*GraphObjectResponse, len(objs))
	for i, o := range objs {
		out[i] = o.ToResponse()
	}
	return out
}

// UpsertResponse reports whether the upsert created the object.
type UpsertResponse struct {
	Object  *GraphObjectResponse `json:"object"`
	Created bool                 `json:"created"`
}

// ListResponse is a page of objects.
type ListResponse struct {
	Items      []*GraphObjectResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// ObjectHistoryResponse is a page of object versions, newest first.
type ObjectHistoryResponse struct {
	Versions   []*GraphObjectResponse `json:"versions"`
	NextBefore int                    `json:"next_before_version,omitempty"`
}

// CreateGraphRelationshipRequest is the request body for creating a relationship.
type CreateGraphRelationshipRequest struct {
	Type       string         `json:"type"`
	SrcID      uuid.UUID      `json:"src_id"`
	DstID      uuid.UUID      `json:"dst_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Weight     *float32       `json:"weight,omitempty"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidTo    *time.Time     `json:"valid_to,omitempty"`
}

// PatchGraphRelationshipRequest is the request body for patching a relationship.
type PatchGraphRelationshipRequest struct {
	Properties      map[string]any `json:"properties,omitempty"`
	Weight          *float32       `json:"weight,omitempty"`
	ValidFrom       *time.Time     `json:"valid_from,omitempty"`
	ValidTo         *time.Time     `json:"valid_to,omitempty"`
	SrcID           *uuid.UUID     `json:"src_id,omitempty"`
	DstID           *uuid.UUID     `json:"dst_id,omitempty"`
	ExpectedVersion *int           `json:"expected_version,omitempty"`
}

// GraphRelationshipResponse is the API response for a relationship.
type GraphRelationshipResponse struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	CanonicalID   uuid.UUID      `json:"canonical_id"`
	SupersedesID  *uuid.UUID     `json:"supersedes_id,omitempty"`
	Version       int            `json:"version"`
	Type          string         `json:"type"`
	SrcID         uuid.UUID      `json:"src_id"`
	DstID         uuid.UUID      `json:"dst_id"`
	Properties    map[string]any `json:"properties"`
	Weight        *float32       `json:"weight,omitempty"`
	ValidFrom     *time.Time     `json:"valid_from,omitempty"`
	ValidTo       *time.Time     `json:"valid_to,omitempty"`
	ChangeSummary *ChangeSummary `json:"change_summary,omitempty"`
	ContentHash   string         `json:"content_hash,omitempty"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ToResponse converts a GraphRelationship entity to API response.
func (r *GraphRelationship) ToResponse() *GraphRelationshipResponse {
	return &GraphRelationshipResponse{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		CanonicalID:   r.CanonicalID,
		SupersedesID:  r.SupersedesID,
		Version:       r.Version,
		Type:          r.Type,
		SrcID:         r.SrcID,
		DstID:         r.DstID,
		Properties:    r.Properties,
		Weight:        r.Weight,
		ValidFrom:     r.ValidFrom,
		ValidTo:       r.ValidTo,
		ChangeSummary: r.ChangeSummary,
		ContentHash:   hex.EncodeToString(r.ContentHash),
		DeletedAt:     r.DeletedAt,
		CreatedAt:     r.CreatedAt,
	}
}

func relationshipResponses(rels []*GraphRelationship) []*GraphRelationshipResponse {
	out := make([]*GraphRelationshipResponse, len(rels))
	for i, r := range rels {
		out[i] = r.ToResponse()
	}
	return out
}

// CreateRelationshipResponse carries the relationship and whether it was
// newly created or an identical live one was returned.
type CreateRelationshipResponse struct {
	*GraphRelationshipResponse
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// EdgesResponse lists relationship heads touching an object.
type EdgesResponse struct {
	Items []*GraphRelationshipResponse `json:"items"`
	Total int                          `json:"total"`
}

// RelationshipListResponse is a page of relationship heads.
type RelationshipListResponse struct {
	Items      []*GraphRelationshipResponse `json:"items"`
	NextCursor string                       `json:"next_cursor,omitempty"`
}

// RelationshipHistoryResponse is a page of relationship versions, newest first.
type RelationshipHistoryResponse struct {
	Versions   []*GraphRelationshipResponse `json:"versions"`
	NextBefore int                          `json:"next_before_version,omitempty"`
}

// TraverseRequest is the request body for a traversal.
type TraverseRequest struct {
	RootIDs           []uuid.UUID `json:"root_ids"`
	MaxDepth          int         `json:"max_depth,omitempty"`
	MaxNodes          int         `json:"max_nodes,omitempty"`
	RelationshipTypes []string    `json:"relationship_types,omitempty"`
	Direction         string      `json:"direction,omitempty"`
}

// SearchRequest is the request body for hybrid search.
type SearchRequest struct {
	Query         string         `json:"query,omitempty"`
	Vector        []float32      `json:"vector,omitempty"`
	Types         []string       `json:"types,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Filter        map[string]any `json:"filter,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	LexicalWeight float32        `json:"lexical_weight,omitempty"`
	VectorWeight  float32        `json:"vector_weight,omitempty"`
}

// SearchHitResponse is one fused search result.
type SearchHitResponse struct {
	Object       *GraphObjectResponse `json:"object"`
	Score        float64              `json:"score"`
	LexicalScore *float64             `json:"lexical_score,omitempty"`
	VectorScore  *float64             `json:"vector_score,omitempty"`
}

// SearchResponse is the hybrid search result list.
type SearchResponse struct {
	Data  []SearchHitResponse `json:"data"`
	Total int                 `json:"total"`
}

func searchResponse(hits []SearchHit) SearchResponse {
	data := make([]SearchHitResponse, len(hits))
	for i, h := range hits {
		data[i] = SearchHitResponse{
			Object:       h.Object.ToResponse(),
			Score:        h.Score,
			LexicalScore: h.LexicalScore,
			VectorScore:  h.VectorScore,
		}
	}
	return SearchResponse{Data: data, Total: len(data)}
}
