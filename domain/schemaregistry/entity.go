package schemaregistry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Kind says whether a schema describes objects or relationships.
type Kind string

const (
	KindObject       Kind = "object"
	KindRelationship Kind = "relationship"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindObject, KindRelationship:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown schema kind %q", s)
}

// Multiplicity is the cardinality rule of a relationship type.
type Multiplicity string

const (
	OneToOne   Multiplicity = "one_to_one"
	OneToMany  Multiplicity = "one_to_many"
	ManyToOne  Multiplicity = "many_to_one"
	ManyToMany Multiplicity = "many_to_many"
)

// ParseMultiplicity validates a multiplicity string. Empty means many_to_many.
func ParseMultiplicity(s string) (Multiplicity, error) {
	switch Multiplicity(s) {
	case "":
		return ManyToMany, nil
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return Multiplicity(s), nil
	}
	return "", fmt.Errorf("unknown multiplicity %q", s)
}

// OnePerSrc reports whether a source object may hold at most one live edge of the type.
func (m Multiplicity) OnePerSrc() bool {
	return m == OneToOne || m == ManyToOne
}

// OnePerDst reports whether a target object may receive at most one live edge of the type.
func (m Multiplicity) OnePerDst() bool {
	return m == OneToOne || m == OneToMany
}

// TypeSchema is one version of a type's schema (kb.type_schemas).
// The active schema of a type is its highest version, unless that version is a tombstone.
type TypeSchema struct {
	bun.BaseModel `bun:"table:kb.type_schemas,alias:ts"`

	ID           uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID    uuid.UUID       `bun:"project_id,notnull,type:uuid" json:"project_id"`
	Kind         Kind            `bun:"kind,notnull" json:"kind"`
	TypeName     string          `bun:"type_name,notnull" json:"type"`
	Version      int             `bun:"version,notnull" json:"version"`
	SupersedesID *uuid.UUID      `bun:"supersedes_id,type:uuid" json:"supersedes_id,omitempty"`
	JSONSchema   json.RawMessage `bun:"json_schema,type:jsonb,notnull" json:"json_schema"`
	Multiplicity *Multiplicity   `bun:"multiplicity" json:"multiplicity,omitempty"`
	Description  *string         `bun:"description" json:"description,omitempty"`
	DeletedAt    *time.Time      `bun:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// Key identifies a cached validator.
type Key struct {
	ProjectID uuid.UUID
	Kind      Kind
	TypeName  string
}

func (k Key) String() string {
	return k.ProjectID.String() + "|" + string(k.Kind) + "|" + k.TypeName
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed schema key %q", s)
	}
	pid, err := uuid.Parse(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("malformed schema key %q: %w", s, err)
	}
	kind, err := ParseKind(parts[1])
	if err != nil {
		return Key{}, err
	}
	return Key{ProjectID: pid, Kind: kind, TypeName: parts[2]}, nil
}
