package schemaregistry

import (
	"encoding/json"
	"time"
)

// RegisterSchemaRequest is the body of POST /api/schemas
type RegisterSchemaRequest struct {
	Kind         string          `json:"kind"`
	Type         string          `json:"type"`
	JSONSchema   json.RawMessage `json:"json_schema"`
	Multiplicity string          `json:"multiplicity,omitempty"`
	Description  *string         `json:"description,omitempty"`
}

// SchemaResponse is the API view of a schema version.
type SchemaResponse struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Type         string          `json:"type"`
	Version      int             `json:"version"`
	SupersedesID *string         `json:"supersedes_id,omitempty"`
	JSONSchema   json.RawMessage `json:"json_schema"`
	Multiplicity *Multiplicity   `json:"multiplicity,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Deleted      bool            `json:"deleted"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SchemaListResponse wraps a list of active schemas.
type SchemaListResponse struct {
	Items []SchemaResponse `json:"items"`
	Total int              `json:"total"`
}

func (s *TypeSchema) ToResponse() SchemaResponse {
	resp := SchemaResponse{
		ID:           s.ID.String(),
		Kind:         s.Kind,
		Type:         s.TypeName,
		Version:      s.Version,
		JSONSchema:   s.JSONSchema,
		Multiplicity: s.Multiplicity,
		Description:  s.Description,
		Deleted:      s.DeletedAt != nil,
		CreatedAt:    s.CreatedAt,
	}
	if s.SupersedesID != nil {
		id := s.SupersedesID.String()
		resp.SupersedesID = &id
	}
	return resp
}
