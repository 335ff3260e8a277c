package graph

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/pkg/pgutils"
)

// GraphObject is one immutable version of a graph node.
// Every version of a node shares canonical_id; the head is the row with the
// highest version, and a tombstone head has DeletedAt set.
type GraphObject struct {
	bun.BaseModel `bun:"table:kb.graph_objects,alias:go"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	ProjectID    uuid.UUID  `bun:"project_id,type:uuid,notnull" json:"project_id"`
	CanonicalID  uuid.UUID  `bun:"canonical_id,type:uuid,notnull" json:"canonical_id"`
	SupersedesID *uuid.UUID `bun:"supersedes_id,type:uuid" json:"supersedes_id,omitempty"`
	Version      int        `bun:"version,notnull" json:"version"`

	Type string  `bun:"type,notnull" json:"type"`
	Key  *string `bun:"key" json:"key,omitempty"`

	Properties    map[string]any `bun:"properties,type:jsonb,notnull" json:"properties"`
	Labels        []string       `bun:"labels,array,notnull" json:"labels"`
	ChangeSummary *ChangeSummary `bun:"change_summary,type:jsonb" json:"change_summary,omitempty"`
	ContentHash   []byte         `bun:"content_hash,type:bytea" json:"-"`

	// Embedding is only loaded on write paths; see objectWriteColumns.
	Embedding pgutils.Vector `bun:"embedding,type:vector" json:"-"`

	DeletedAt *time.Time `bun:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// IsLive reports whether the version is not a tombstone.
func (o *GraphObject) IsLive() bool { return o.DeletedAt == nil }

// GraphRelationship is one immutable version of a typed edge.
// SrcID and DstID are object canonical ids, so an edge follows its endpoints
// across their versions.
type GraphRelationship struct {
	bun.BaseModel `bun:"table:kb.graph_relationships,alias:gr"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	ProjectID    uuid.UUID  `bun:"project_id,type:uuid,notnull" json:"project_id"`
	CanonicalID  uuid.UUID  `bun:"canonical_id,type:uuid,notnull" json:"canonical_id"`
	SupersedesID *uuid.UUID `bun:"supersedes_id,type:uuid" json:"supersedes_id,omitempty"`
	Version      int        `bun:"version,notnull" json:"version"`

	Type  string    `bun:"type,notnull" json:"type"`
	SrcID uuid.UUID `bun:"src_id,type:uuid,notnull" json:"src_id"`
	DstID uuid.UUID `bun:"dst_id,type:uuid,notnull" json:"dst_id"`

	Properties    map[string]any `bun:"properties,type:jsonb,notnull" json:"properties"`
	Weight        *float32       `bun:"weight" json:"weight,omitempty"`
	ChangeSummary *ChangeSummary `bun:"change_summary,type:jsonb" json:"change_summary,omitempty"`
	ContentHash   []byte         `bun:"content_hash,type:bytea" json:"-"`

	// Temporal validity
	ValidFrom *time.Time `bun:"valid_from" json:"valid_from,omitempty"`
	ValidTo   *time.Time `bun:"valid_to" json:"valid_to,omitempty"`

	DeletedAt *time.Time `bun:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// IsLive reports whether the version is not a tombstone.
func (r *GraphRelationship) IsLive() bool { return r.DeletedAt == nil }

// objectKeyClaim marks (project, type, key) as held by a live object head.
type objectKeyClaim struct {
	bun.BaseModel `bun:"table:kb.graph_object_keys,alias:gk"`

	ProjectID   uuid.UUID `bun:"project_id,pk,type:uuid"`
	Type        string    `bun:"type,pk"`
	Key         string    `bun:"key,pk"`
	CanonicalID uuid.UUID `bun:"canonical_id,type:uuid,notnull"`
	ClaimedAt   time.Time `bun:"claimed_at,nullzero,notnull,default:current_timestamp"`
}

// objectColumns are the columns read on every object query. The embedding
// and the generated fts vector are left out.
var objectColumns = []string{
	"id", "project_id", "canonical_id", "supersedes_id", "version",
	"type", "key", "properties", "labels", "change_summary", "content_hash",
	"deleted_at", "created_at",
}

// objectWriteColumns additionally load the embedding so a new version can carry it over.
var objectWriteColumns = append(append([]string(nil), objectColumns...), "embedding")

// Constraint names reported on unique violations.
const (
	objectVersionKey          = "graph_objects_canonical_version_key"
	objectSupersedesKey       = "graph_objects_supersedes_key"
	objectKeyClaimKey         = "graph_object_keys_pkey"
	relationshipVersionKey    = "graph_relationships_canonical_version_key"
	relationshipSupersedesKey = "graph_relationships_supersedes_key"
)
