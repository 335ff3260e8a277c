package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of change a graph write produced.
type EventType string

const (
	EventCreated  EventType = "graph.created"
	EventUpdated  EventType = "graph.updated"
	EventDeleted  EventType = "graph.deleted"
	EventRestored EventType = "graph.restored"
)

// EntityType names the versioned table the change landed in.
type EntityType string

const (
	EntityObject       EntityType = "graph_object"
	EntityRelationship EntityType = "graph_relationship"
)

// ChangeEvent is published after a graph write commits.
type ChangeEvent struct {
	Type       EventType  `json:"type"`
	Entity     EntityType `json:"entity"`
	ProjectID  uuid.UUID  `json:"project_id"`
	ID         uuid.UUID  `json:"id"`         // canonical id
	VersionID  uuid.UUID  `json:"version_id"` // row id of the new version
	Version    int        `json:"version"`
	ObjectType string     `json:"object_type,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ConnectedEvent is sent when a stream opens.
type ConnectedEvent struct {
	ConnectionID string    `json:"connection_id"`
	ProjectID    uuid.UUID `json:"project_id"`
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp string `json:"timestamp"`
}
