package schemaregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
)

// Store is the persistence the registry needs; *Repository implements it.
type Store interface {
	Latest(ctx context.Context, key Key) (*TypeSchema, error)
	Append(ctx context.Context, key Key, build BuildFunc) (*TypeSchema, error)
	ListActive(ctx context.Context, projectID uuid.UUID, kind Kind) ([]TypeSchema, error)
}

// Service resolves compiled validators and owns schema writes.
//
// Compiled validators are cached per (project, kind, type) until a schema
// write invalidates them. Each key carries a generation counter so a load that
// raced with an invalidation never re-inserts the stale validator.
type Service struct {
	store Store
	bus   Bus
	log   *slog.Logger

	mu    sync.RWMutex
	cache map[Key]*Validator
	gen   map[Key]uint64
}

func NewService(store Store, bus Bus, log *slog.Logger) *Service {
	if bus == nil {
		bus = LocalBus{}
	}
	return &Service{
		store: store,
		bus:   bus,
		log:   log.With(logger.Scope("schema.registry")),
		cache: make(map[Key]*Validator),
		gen:   make(map[Key]uint64),
	}
}

// GetValidator returns the compiled active schema for a type, or ErrSchemaNotFound.
func (s *Service) GetValidator(ctx context.Context, projectID uuid.UUID, kind Kind, typeName string) (*Validator, error) {
	key := Key{ProjectID: projectID, Kind: kind, TypeName: typeName}

	s.mu.RLock()
	v, ok := s.cache[key]
	gen := s.gen[key]
	s.mu.RUnlock()
	if ok {
		metrics.ValidatorCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.ValidatorCache.WithLabelValues("miss").Inc()

	row, err := s.store.Latest(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil || row.DeletedAt != nil {
		return nil, apperror.ErrSchemaNotFound.WithMessage(
			fmt.Sprintf("no %s schema registered for type %q", kind, typeName))
	}

	v, err = Compile(row)
	if err != nil {
		// Stored schemas are compiled before they are written, so this means
		// the row was edited out of band.
		return nil, apperror.NewInternal("stored schema does not compile", err)
	}

	s.mu.Lock()
	if s.gen[key] == gen {
		s.cache[key] = v
	}
	s.mu.Unlock()
	return v, nil
}

// InvalidateLocal drops the cached validator for key on this instance only.
func (s *Service) InvalidateLocal(key Key) {
	s.mu.Lock()
	delete(s.cache, key)
	s.gen[key]++
	s.mu.Unlock()
	metrics.ValidatorCache.WithLabelValues("invalidate").Inc()
}

func (s *Service) invalidate(ctx context.Context, key Key) {
	s.InvalidateLocal(key)
	if err := s.bus.Publish(ctx, key); err != nil {
		s.log.Warn("schema invalidation not broadcast",
			slog.String("key", key.String()),
			logger.Error(err),
		)
	}
}

// Listen applies invalidations from other instances until ctx is done.
func (s *Service) Listen(ctx context.Context) error {
	return s.bus.Subscribe(ctx, s.InvalidateLocal)
}

// RegisterInput describes a new schema version.
type RegisterInput struct {
	Kind         Kind
	TypeName     string
	JSONSchema   json.RawMessage
	Multiplicity string
	Description  *string
}

// Register stores a new version of a type's schema, superseding the active one.
func (s *Service) Register(ctx context.Context, projectID uuid.UUID, in RegisterInput) (*TypeSchema, error) {
	if _, err := ParseKind(string(in.Kind)); err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}
	typeName := strings.TrimSpace(in.TypeName)
	if typeName == "" {
		return nil, apperror.NewBadRequest("type is required")
	}

	var mult *Multiplicity
	if in.Kind == KindRelationship {
		m, err := ParseMultiplicity(in.Multiplicity)
		if err != nil {
			return nil, apperror.NewBadRequest(err.Error())
		}
		mult = &m
	} else if in.Multiplicity != "" {
		return nil, apperror.NewBadRequest("multiplicity applies to relationship schemas only")
	}

	raw := in.JSONSchema
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if _, err := resolve(raw); err != nil {
		return nil, apperror.NewValidation("invalid json schema", map[string]string{
			"json_schema": err.Error(),
		})
	}

	key := Key{ProjectID: projectID, Kind: in.Kind, TypeName: typeName}
	row, err := s.store.Append(ctx, key, func(*TypeSchema) (*TypeSchema, error) {
		return &TypeSchema{
			JSONSchema:   raw,
			Multiplicity: mult,
			Description:  in.Description,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, key)
	s.log.Info("schema registered",
		slog.String("project_id", projectID.String()),
		slog.String("kind", string(in.Kind)),
		slog.String("type", typeName),
		slog.Int("version", row.Version),
	)
	return row, nil
}

// Delete tombstones the active schema of a type.
func (s *Service) Delete(ctx context.Context, projectID uuid.UUID, kind Kind, typeName string) (*TypeSchema, error) {
	key := Key{ProjectID: projectID, Kind: kind, TypeName: typeName}
	row, err := s.store.Append(ctx, key, func(prev *TypeSchema) (*TypeSchema, error) {
		if prev == nil || prev.DeletedAt != nil {
			return nil, apperror.NewNotFound("Schema", typeName)
		}
		now := time.Now().UTC()
		return &TypeSchema{
			JSONSchema:   prev.JSONSchema,
			Multiplicity: prev.Multiplicity,
			Description:  prev.Description,
			DeletedAt:    &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, key)
	return row, nil
}

// List returns active schemas of a project, optionally for one kind.
func (s *Service) List(ctx context.Context, projectID uuid.UUID, kind Kind) ([]TypeSchema, error) {
	return s.store.ListActive(ctx, projectID, kind)
}

// IsNotFound reports whether err means no schema is registered.
func IsNotFound(err error) bool {
	return errors.Is(err, apperror.ErrSchemaNotFound)
}
