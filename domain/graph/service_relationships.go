package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/emergent.graph/domain/events"
	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/mathutil"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/tracing"
)

// CreateRelationshipInput describes a new edge between two object canonical ids.
type CreateRelationshipInput struct {
	Type       string
	SrcID      uuid.UUID
	DstID      uuid.UUID
	Properties map[string]any
	Weight     *float32
	ValidFrom  *time.Time
	ValidTo    *time.Time
}

// PatchRelationshipInput changes a relationship. Nil fields are left as they are;
// moving an endpoint re-runs the endpoint and multiplicity checks.
type PatchRelationshipInput struct {
	Properties      map[string]any
	Weight          *float32
	ValidFrom       *time.Time
	ValidTo         *time.Time
	SrcID           *uuid.UUID
	DstID           *uuid.UUID
	ExpectedVersion *int
}

var errSelfLoop = apperror.ErrBadRequest.
	WithMessage("a relationship cannot connect an object to itself").
	WithDetails(map[string]any{"reason": "self_loop_not_allowed"})

func checkValidity(from, to *time.Time) error {
	if from != nil && to != nil && !to.After(*from) {
		return apperror.NewBadRequest("valid_to must be after valid_from")
	}
	return nil
}

func (s *Service) emitRelationship(typ events.EventType, rel *GraphRelationship) {
	s.emit(typ, events.EntityRelationship, rel.ProjectID, rel.CanonicalID, rel.ID, rel.Version, rel.Type)
}

// relationshipRules resolves the validator and turns its multiplicity into
// the write checks.
func (s *Service) relationshipRules(ctx context.Context, projectID uuid.UUID, relType string) (*schemaregistry.Validator, error) {
	return s.validator(ctx, projectID, schemaregistry.KindRelationship, relType)
}

func (s *Service) writeRelationship(ctx context.Context, w relationshipWrite) (*GraphRelationship, bool, error) {
	out, created, err := s.repo.WriteRelationship(ctx, w)
	if err != nil && apperror.Code(err) == apperror.ErrMultiplicityViolation.Code {
		metrics.MultiplicityViolations.WithLabelValues(w.rel.Type).Inc()
	}
	return out, created, err
}

// CreateRelationship validates and inserts version 1. When a live
// relationship with the same type, endpoints and properties exists it is
// returned instead and created is false.
func (s *Service) CreateRelationship(ctx context.Context, projectID uuid.UUID, in CreateRelationshipInput) (rel *GraphRelationship, created bool, err error) {
	ctx, span := tracing.Start(ctx, "graph.relationship.create",
		attribute.String("graph.project_id", projectID.String()),
		attribute.String("graph.type", in.Type),
	)
	defer span.End()
	defer func() { s.record(entityRelationship, OpCreate, err) }()

	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return nil, false, apperror.NewBadRequest("type is required")
	}
	if in.SrcID == uuid.Nil || in.DstID == uuid.Nil {
		return nil, false, apperror.NewBadRequest("src_id and dst_id are required")
	}
	if in.SrcID == in.DstID {
		return nil, false, errSelfLoop
	}
	if err := checkValidity(in.ValidFrom, in.ValidTo); err != nil {
		return nil, false, err
	}
	props, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, false, apperror.NewBadRequest(err.Error())
	}
	v, err := s.relationshipRules(ctx, projectID, in.Type)
	if err != nil {
		return nil, false, err
	}
	if err := v.Validate(props); err != nil {
		return nil, false, err
	}

	id := uuid.New()
	rel = &GraphRelationship{
		ID:          id,
		ProjectID:   projectID,
		CanonicalID: id,
		Version:     1,
		Type:        in.Type,
		SrcID:       in.SrcID,
		DstID:       in.DstID,
		Properties:  props,
		Weight:      in.Weight,
		ValidFrom:   in.ValidFrom,
		ValidTo:     in.ValidTo,
		ContentHash: computeContentHash(props),
	}
	rel, created, err = s.writeRelationship(ctx, relationshipWrite{
		rel:            rel,
		checkEndpoints: true,
		onePerSrc:      v.Multiplicity.OnePerSrc(),
		onePerDst:      v.Multiplicity.OnePerDst(),
		dedupe:         true,
	})
	if err != nil {
		return nil, false, tracing.RecordError(span, err)
	}
	if created {
		s.emitRelationship(events.EventCreated, rel)
	}
	return rel, created, nil
}

// PatchRelationship writes head+1 with the change applied, retrying lost
// version races like PatchObject.
func (s *Service) PatchRelationship(ctx context.Context, projectID, canonicalID uuid.UUID, in PatchRelationshipInput) (out *GraphRelationship, err error) {
	defer func() { s.record(entityRelationship, OpPatch, err) }()

	if in.SrcID != nil && in.DstID != nil && *in.SrcID == *in.DstID {
		return nil, errSelfLoop
	}
	delta, err := normalizeProperties(in.Properties)
	if err != nil {
		return nil, apperror.NewBadRequest(err.Error())
	}

	created := false
	err = withVersionRetry(ctx, entityRelationship, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.RelationshipHead(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if err := checkExpectedVersion(in.ExpectedVersion, head.Version); err != nil {
			return err
		}
		if !head.IsLive() {
			return apperror.NewBadRequest("relationship is deleted; restore it before patching")
		}

		next := nextRelationshipVersion(head)
		summary := &ChangeSummary{Op: OpPatch}

		props := mergeProperties(head.Properties, delta)
		diffProperties(summary, head.Properties, props)
		next.Properties = props
		next.ContentHash = computeContentHash(props)

		if in.Weight != nil && (head.Weight == nil || *head.Weight != *in.Weight) {
			next.Weight = in.Weight
			summary.Fields = append(summary.Fields, "weight")
		}
		if in.ValidFrom != nil && !timeEqual(head.ValidFrom, in.ValidFrom) {
			next.ValidFrom = in.ValidFrom
			summary.Fields = append(summary.Fields, "valid_from")
		}
		if in.ValidTo != nil && !timeEqual(head.ValidTo, in.ValidTo) {
			next.ValidTo = in.ValidTo
			summary.Fields = append(summary.Fields, "valid_to")
		}
		moved := false
		if in.SrcID != nil && *in.SrcID != head.SrcID {
			next.SrcID = *in.SrcID
			summary.Fields = append(summary.Fields, "src_id")
			moved = true
		}
		if in.DstID != nil && *in.DstID != head.DstID {
			next.DstID = *in.DstID
			summary.Fields = append(summary.Fields, "dst_id")
			moved = true
		}
		if summary.Empty() {
			out, created = head, false
			return nil
		}
		if err := checkValidity(next.ValidFrom, next.ValidTo); err != nil {
			return err
		}
		if moved && next.SrcID == next.DstID {
			return errSelfLoop
		}

		v, err := s.relationshipRules(ctx, projectID, head.Type)
		if err != nil {
			return err
		}
		if err := v.Validate(props); err != nil {
			return err
		}

		next.ChangeSummary = summary
		w := relationshipWrite{rel: next, checkEndpoints: moved}
		if moved {
			w.onePerSrc = v.Multiplicity.OnePerSrc()
			w.onePerDst = v.Multiplicity.OnePerDst()
		}
		if _, _, err := s.writeRelationship(ctx, w); err != nil {
			return err
		}
		out, created = next, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.emitRelationship(events.EventUpdated, out)
	}
	return out, nil
}

// DeleteRelationship writes a tombstone version.
func (s *Service) DeleteRelationship(ctx context.Context, projectID, canonicalID uuid.UUID) (out *GraphRelationship, err error) {
	defer func() { s.record(entityRelationship, OpDelete, err) }()

	err = withVersionRetry(ctx, entityRelationship, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.RelationshipHead(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if !head.IsLive() {
			return apperror.NewBadRequest("relationship already deleted")
		}
		now := time.Now().UTC()
		next := nextRelationshipVersion(head)
		next.DeletedAt = &now
		next.ChangeSummary = &ChangeSummary{Op: OpDelete}
		if _, _, err := s.writeRelationship(ctx, relationshipWrite{rel: next}); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitRelationship(events.EventDeleted, out)
	return out, nil
}

// RestoreRelationship revives a tombstoned relationship. Both endpoints must
// be live again and the multiplicity rule must still hold.
func (s *Service) RestoreRelationship(ctx context.Context, projectID, canonicalID uuid.UUID) (out *GraphRelationship, err error) {
	defer func() { s.record(entityRelationship, OpRestore, err) }()

	err = withVersionRetry(ctx, entityRelationship, s.cfg.WriteRetries, func(ctx context.Context) error {
		head, err := s.repo.RelationshipHead(ctx, projectID, canonicalID)
		if err != nil {
			return err
		}
		if head.IsLive() {
			return apperror.NewBadRequest("relationship is not deleted")
		}
		v, err := s.relationshipRules(ctx, projectID, head.Type)
		if err != nil {
			return err
		}
		next := nextRelationshipVersion(head)
		next.DeletedAt = nil
		next.ChangeSummary = &ChangeSummary{Op: OpRestore}
		if _, _, err := s.writeRelationship(ctx, relationshipWrite{
			rel:            next,
			checkEndpoints: true,
			onePerSrc:      v.Multiplicity.OnePerSrc(),
			onePerDst:      v.Multiplicity.OnePerDst(),
		}); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitRelationship(events.EventRestored, out)
	return out, nil
}

// GetRelationship returns the head of a relationship. A tombstoned head is
// NotFound unless includeDeleted is set.
func (s *Service) GetRelationship(ctx context.Context, projectID, canonicalID uuid.UUID, includeDeleted bool) (*GraphRelationship, error) {
	head, err := s.repo.RelationshipHead(ctx, projectID, canonicalID)
	if err != nil {
		return nil, err
	}
	if !head.IsLive() && !includeDeleted {
		return nil, apperror.NewNotFound("relationship", canonicalID.String())
	}
	return head, nil
}

// ListRelationships pages through relationship heads, like ListObjects.
func (s *Service) ListRelationships(ctx context.Context, params RelationshipListParams) ([]*GraphRelationship, string, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, defaultPageSize, maxPageSize)
	return s.repo.ListRelationships(ctx, params)
}

// RelationshipHistory pages through versions newest first, like ObjectHistory.
func (s *Service) RelationshipHistory(ctx context.Context, projectID, canonicalID uuid.UUID, beforeVersion, limit int) (versions []*GraphRelationship, nextBefore int, err error) {
	limit = mathutil.ClampLimit(limit, defaultPageSize, maxPageSize)
	versions, err = s.repo.RelationshipHistory(ctx, projectID, canonicalID, beforeVersion, limit+1)
	if err != nil {
		return nil, 0, err
	}
	if len(versions) == 0 && beforeVersion <= 0 {
		return nil, 0, apperror.NewNotFound("relationship", canonicalID.String())
	}
	if len(versions) > limit {
		versions = versions[:limit]
		nextBefore = versions[len(versions)-1].Version
	}
	return versions, nextBefore, nil
}

func nextRelationshipVersion(head *GraphRelationship) *GraphRelationship {
	supersedes := head.ID
	return &GraphRelationship{
		ID:           uuid.New(),
		ProjectID:    head.ProjectID,
		CanonicalID:  head.CanonicalID,
		SupersedesID: &supersedes,
		Version:      head.Version + 1,
		Type:         head.Type,
		SrcID:        head.SrcID,
		DstID:        head.DstID,
		Properties:   head.Properties,
		Weight:       head.Weight,
		ContentHash:  head.ContentHash,
		ValidFrom:    head.ValidFrom,
		ValidTo:      head.ValidTo,
		DeletedAt:    head.DeletedAt,
	}
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
