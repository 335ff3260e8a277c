package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/mathutil"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/tracing"
)

const (
	entityObject       = "object"
	entityRelationship = "relationship"
)

// Page sizes for history and listing.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Traversal and search request defaults; the configured ceilings still apply.
const (
	defaultTraverseDepth = 2
	defaultTraverseNodes = 400
	defaultSearchLimit   = 20
	maxSearchLimit       = 100
)

// SchemaResolver hands out the compiled validator for a type.
type SchemaResolver interface {
	GetValidator(ctx context.Context, projectID uuid.UUID, kind schemaregistry.Kind, typeName string) (*schemaregistry.Validator, error)
}

// EventPublisher receives a change event after every committed write.
type EventPublisher interface {
	Emit(ev events.ChangeEvent)
}

// Service implements the versioned object and relationship store.
type Service struct {
	repo    *Repository
	schemas SchemaResolver
	events  EventPublisher
	cfg     config.GraphConfig
	log     *slog.Logger
}

// NewService creates a new graph service.
func NewService(repo *Repository, schemas SchemaResolver, publisher EventPublisher, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		schemas: schemas,
		events:  publisher,
		cfg:     cfg.Graph,
		log:     log.With(logger.Scope("graph.svc")),
	}
}

// validator resolves the type's validator. Without RequireSchema an
// unregistered type is accepted as-is.
func (s *Service) validator(ctx context.Context, projectID uuid.UUID, kind schemaregistry.Kind, typeName string) (*schemaregistry.Validator, error) {
	v, err := s.schemas.GetValidator(ctx, projectID, kind, typeName)
	if err == nil {
		return v, nil
	}
	if schemaregistry.IsNotFound(err) && !s.cfg.RequireSchema {
		return schemaregistry.Permissive(kind, typeName), nil
	}
	return nil, err
}

func (s *Service) checkEmbedding(v []float32) error {
	if len(v) > 0 && len(v) != s.cfg.EmbeddingDimension {
		return apperror.NewBadRequest(fmt.Sprintf("embedding must have %d dimensions, got %d", s.cfg.EmbeddingDimension, len(v)))
	}
	return nil
}

func (s *Service) record(entity, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = apperror.Code(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.Writes.WithLabelValues(entity, op, outcome).Inc()
}

func (s *Service) emit(typ events.EventType, entity events.EntityType, projectID, canonicalID, versionID uuid.UUID, version int, objType string) {
	if s.events == nil {
		return
	}
	s.events.Emit(events.ChangeEvent{
		Type:       typ,
		Entity:     entity,
		ProjectID:  projectID,
		ID:         canonicalID,
		VersionID:  versionID,
		Version:    version,
		ObjectType: objType,
		Timestamp:  time.Now().UTC(),
	})
}

func (s *Service) emitObject(typ events.EventType, obj *GraphObject) {
	s.emit(typ, events.EntityObject, obj.ProjectID, obj.CanonicalID, obj.ID, obj.Version, obj.Type)
}

// CreateObjectInput describes a new object.
type CreateObjectInput struct {
	Type       string
	Key        *string
	Properties map[string]any
	Labels     []string
	Embedding  []float32
}

// CreateObject validates the properties and inserts version 1.
// A key already held by a live head fails with DuplicateKey.
func (s *Service) CreateObject(ctx context.Context, projectID uuid.UUID, in CreateObjectInput) (obj *GraphObject, err error) {
	defer func() { s.record(entityObject, OpCreate, err) }()

	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return nil, apperror.NewBadRequest("type is required")
	}
	if in.Key != nil && strings.TrimSpace(*in.Key) == "" {
		return nil, apperror.NewBadRequest("key must not be blank")
	}
	if err := s.checkEmbedding(in.Embedding); err != nil {
		return nil, err
	}

	props, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}
	v, err := s.validator(ctx, projectID, schemaregistry.KindObject, in.Type)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(props); err != nil {
		return nil, err
	}

	id := uuid.New()
	obj = &GraphObject{
		ID:          id,
		ProjectID:   projectID,
		CanonicalID: id,
		Version:     1,
		Type:        in.Type,
		Key:         in.Key,
		Properties:  props,
		Labels:      normalizeLabels(in.Labels),
		ContentHash: computeContentHash(props),
		Embedding:   in.Embedding,
	}
	if err := s.repo.InsertFirst(ctx, obj); err != nil {
		return nil, err
	}

	s.emitObject(events.EventCreated, obj)
	return obj, nil
}

// PatchObjectInput is a property and label delta. A nil property value
// removes the property.
type PatchObjectInput struct {
	Properties      map[string]any
	Labels          LabelDelta
	Embedding       []float32
	ExpectedVersion *int
}

// PatchObject writes head+1 with the delta applied. With ExpectedVersion set,
// any other head version fails with Conflict without retrying. A lost version
// race reloads the head, rebases the delta and retries. A delta that changes
// nothing returns the head unchanged.
func (s *Service) PatchObject(ctx context.Context, projectID, canonicalID uuid.UUID, in PatchObjectInput) (out *GraphObject, err error) {
	ctx, span := tracing.Start(ctx, "graph.object.patch",
		attribute.String("graph.project_id", projectID.String()),
		attribute.String("graph.canonical_id", canonicalID.String()),
	)
	defer span.End()
	defer func() { s.record(entityObject, OpPatch, err) }()

	if err := s.checkEmbedding(in.Embedding); err != nil {
		return nil, err
	}
	delta, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	created := false
	err = withVersionRetry(ctx, entityObject, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.headForWrite(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if err := checkExpectedVersion(in.ExpectedVersion, head.Version); err != nil {
			return err
		}
		if !head.IsLive() {
			return apperror.NewBadRequest("object is deleted; restore it before patching")
		}

		props := mergeProperties(head.Properties, delta)
		v, err := s.validator(ctx, projectID, schemaregistry.KindObject, head.Type)
		if err != nil {
			return err
		}
		if err := v.Validate(props); err != nil {
			return err
		}

		labels, added, removed := applyLabelDelta(head.Labels, in.Labels)
		summary := &ChangeSummary{Op: OpPatch, LabelsAdded: added, LabelsRemoved: removed}
		diffProperties(summary, head.Properties, props)

		embedding := head.Embedding
		if len(in.Embedding) > 0 {
			embedding = in.Embedding
			summary.Fields = append(summary.Fields, "embedding")
		}
		if summary.Empty() {
			out, created = head, false
			return nil
		}

		next := nextObjectVersion(head)
		next.Properties = props
		next.Labels = labels
		next.ContentHash = computeContentHash(props)
		next.Embedding = embedding
		next.ChangeSummary = summary
		if err := s.repo.InsertVersion(ctx, next, claimKeep); err != nil {
			return err
		}
		out, created = next, true
		return nil
	})
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	if created {
		s.emitObject(events.EventUpdated, out)
	}
	return out, nil
}

// DeleteObject writes a tombstone version and releases the key.
func (s *Service) DeleteObject(ctx context.Context, projectID, canonicalID uuid.UUID) (out *GraphObject, err error) {
	defer func() { s.record(entityObject, OpDelete, err) }()

	err = withVersionRetry(ctx, entityObject, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.headForWrite(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if !head.IsLive() {
			return apperror.NewBadRequest("object already deleted")
		}
		now := time.Now().UTC()
		next := nextObjectVersion(head)
		next.DeletedAt = &now
		next.ChangeSummary = &ChangeSummary{Op: OpDelete}
		if err := s.repo.InsertVersion(ctx, next, claimRelease); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitObject(events.EventDeleted, out)
	return out, nil
}

// RestoreObject writes a live version on top of a tombstone and re-claims the
// key; DuplicateKey if another live object took it meanwhile.
func (s *Service) RestoreObject(ctx context.Context, projectID, canonicalID uuid.UUID) (out *GraphObject, err error) {
	defer func() { s.record(entityObject, OpRestore, err) }()

	err = withVersionRetry(ctx, entityObject, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.headForWrite(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if head.IsLive() {
			return apperror.NewBadRequest("object is not deleted")
		}
		next := nextObjectVersion(head)
		next.DeletedAt = nil
		next.ChangeSummary = &ChangeSummary{Op: OpRestore}
		if err := s.repo.InsertVersion(ctx, next, claimAcquire); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitObject(events.EventRestored, out)
	return out, nil
}

// nextObjectVersion copies head into a new row superseding it.
func nextObjectVersion(head *GraphObject) *GraphObject {
	supersedes := head.ID
	return &GraphObject{
		ID:           uuid.New(),
		ProjectID:    head.ProjectID,
		CanonicalID:  head.CanonicalID,
		SupersedesID: &supersedes,
		Version:      head.Version + 1,
		Type:         head.Type,
		Key:          head.Key,
		Properties:   head.Properties,
		Labels:       head.Labels,
		ContentHash:  head.ContentHash,
		Embedding:    head.Embedding,
		DeletedAt:    head.DeletedAt,
	}
}

func checkExpectedVersion(expected *int, actual int) error {
	if expected == nil || *expected == actual {
		return nil
	}
	return apperror.ErrConflict.
		WithMessage(fmt.Sprintf("expected version %d, head is version %d", *expected, actual)).
		WithDetails(map[string]any{"expected_version": *expected, "head_version": actual})
}

// GetObject returns the head of canonicalID. A tombstoned head is NotFound
// unless includeDeleted is set.
func (s *Service) GetObject(ctx context.Context, projectID, canonicalID uuid.UUID, includeDeleted bool) (*GraphObject, error) {
	head, err := s.repo.HeadByCanonicalID(ctx, projectID, canonicalID)
	if err != nil {
		return nil, err
	}
	if !head.IsLive() && !includeDeleted {
		return nil, apperror.NewNotFound("object", canonicalID.String())
	}
	return head, nil
}

// GetObjectByKey returns the live head holding (type, key).
func (s *Service) GetObjectByKey(ctx context.Context, projectID uuid.UUID, objType, key string) (*GraphObject, error) {
	return s.repo.HeadByKey(ctx, projectID, objType, key)
}

// ObjectHistory returns versions newest first. nextBefore is the
// beforeVersion of the following page, 0 when there is none.
func (s *Service) ObjectHistory(ctx context.Context, projectID, canonicalID uuid.UUID, beforeVersion, limit int) (versions []*GraphObject, nextBefore int, err error) {
	limit = mathutil.ClampLimit(limit, defaultPageSize, maxPageSize)
	versions, err = s.repo.History(ctx, projectID, canonicalID, beforeVersion, limit+1)
	if err != nil {
		return nil, 0, err
	}
	if len(versions) == 0 && beforeVersion <= 0 {
		return nil, 0, apperror.NewNotFound("object", canonicalID.String())
	}
	if len(versions) > limit {
		versions = versions[:limit]
		nextBefore = versions[len(versions)-1].Version
	}
	return versions, nextBefore, nil
}

// UpsertObjectInput identifies an object by (type, key).
type UpsertObjectInput struct {
	Type       string
	Key        string
	Properties map[string]any
	Labels     []string
	Embedding  []float32
}

// UpsertObject creates the object holding (type, key) or patches its live head.
// created reports which happened.
func (s *Service) UpsertObject(ctx context.Context, projectID uuid.UUID, in UpsertObjectInput) (obj *GraphObject, created bool, err error) {
	if strings.TrimSpace(in.Key) == "" {
		return nil, false, apperror.NewBadRequest("key is required for upsert")
	}
	// Two rounds: a concurrent create may claim the key between lookup and insert.
	for round := 0; round < 2; round++ {
		head, err := s.repo.HeadByKey(ctx, projectID, in.Type, in.Key)
		if errors.Is(err, apperror.ErrNotFound) {
			key := in.Key
			obj, err := s.CreateObject(ctx, projectID, CreateObjectInput{
				Type: in.Type, Key: &key, Properties: in.Properties, Labels: in.Labels, Embedding: in.Embedding,
			})
			if errors.Is(err, apperror.ErrDuplicateKey) {
				continue
			}
			return obj, err == nil, err
		}
		if err != nil {
			return nil, false, err
		}
		obj, err := s.PatchObject(ctx, projectID, head.CanonicalID, PatchObjectInput{
			Properties: in.Properties,
			Labels:     LabelDelta{Add: in.Labels},
			Embedding:  in.Embedding,
		})
		return obj, false, err
	}
	return nil, false, apperror.ErrConflict.WithMessage("key was claimed and released concurrently")
}

// ListObjects returns a page of heads and the cursor of the next one.
func (s *Service) ListObjects(ctx context.Context, params ListParams) ([]*GraphObject, string, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, defaultPageSize, maxPageSize)
	return s.repo.List(ctx, params)
}

// ListEdges returns relationship heads touching an existing object.
func (s *Service) ListEdges(ctx context.Context, projectID, canonicalID uuid.UUID, dir Direction, types []string, includeDeleted bool) ([]*GraphRelationship, error) {
	if _, err := s.repo.HeadByCanonicalID(ctx, projectID, canonicalID); err != nil {
		return nil, err
	}
	return s.repo.Edges(ctx, EdgeParams{
		ProjectID:      projectID,
		ObjectIDs:      []uuid.UUID{canonicalID},
		Direction:      dir,
		Types:          types,
		IncludeDeleted: includeDeleted,
	})
}

// Traverse runs a bounded breadth-first walk. Caps above the configured
// ceilings are lowered; the result reports the caps actually applied.
func (s *Service) Traverse(ctx context.Context, p TraverseParams) (*TraversalResult, error) {
	if len(p.Roots) == 0 {
		return nil, apperror.NewBadRequest("at least one root is required")
	}
	return traverse(ctx, s.repo, s.traverseLimits(p))
}

func (s *Service) traverseLimits(p TraverseParams) TraverseParams {
	if p.Direction == "" {
		p.Direction = DirectionBoth
	}
	p.MaxDepth = mathutil.ClampLimit(p.MaxDepth, min(defaultTraverseDepth, s.cfg.TraverseMaxDepth), s.cfg.TraverseMaxDepth)
	p.MaxNodes = mathutil.ClampLimit(p.MaxNodes, min(defaultTraverseNodes, s.cfg.TraverseMaxNodes), s.cfg.TraverseMaxNodes)
	return p
}

// Search runs a hybrid lexical and vector search over live heads.
func (s *Service) Search(ctx context.Context, p SearchParams) ([]SearchHit, error) {
	if strings.TrimSpace(p.Query) == "" && len(p.Vector) == 0 {
		return nil, apperror.NewBadRequest("query or vector is required")
	}
	if err := s.checkEmbedding(p.Vector); err != nil {
		return nil, err
	}
	p.Limit = mathutil.ClampLimit(p.Limit, defaultSearchLimit, maxSearchLimit)
	if p.LexicalWeight == 0 && p.VectorWeight == 0 {
		p.LexicalWeight, p.VectorWeight = s.cfg.LexicalWeight, s.cfg.VectorWeight
	}
	return hybridSearch(ctx, s.repo, p, s.cfg.VectorProbes)
}
