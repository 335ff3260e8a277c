package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/internal/database"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

const relationshipHeadOnly = `NOT EXISTS (
	SELECT 1 FROM kb.graph_relationships AS newer
	WHERE newer.canonical_id = gr.canonical_id AND newer.version > gr.version)`

// Direction selects which edges of an object are followed.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// ParseDirection parses a direction, defaulting to both.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DirectionBoth, nil
	case DirectionOut, DirectionIn, DirectionBoth:
		return d, nil
	}
	return "", apperror.NewBadRequest(fmt.Sprintf("direction must be out, in or both, got %q", s))
}

// RelationshipHead returns the latest version of a relationship, tombstone or not.
func (r *Repository) RelationshipHead(ctx context.Context, projectID, canonicalID uuid.UUID) (*GraphRelationship, error) {
	rel := new(GraphRelationship)
	err := r.db.NewSelect().
		Model(rel).
		Where("gr.project_id = ?", projectID).
		Where("gr.canonical_id = ?", canonicalID).
		OrderExpr("gr.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("relationship", canonicalID.String())
	}
	if err != nil {
		return nil, wrapDBError("load relationship head", err)
	}
	return rel, nil
}

// RelationshipHistory returns versions below beforeVersion (all when 0), newest first.
func (r *Repository) RelationshipHistory(ctx context.Context, projectID, canonicalID uuid.UUID, beforeVersion, limit int) ([]*GraphRelationship, error) {
	var rows []*GraphRelationship
	q := r.db.NewSelect().
		Model(&rows).
		Where("gr.project_id = ?", projectID).
		Where("gr.canonical_id = ?", canonicalID).
		OrderExpr("gr.version DESC").
		Limit(limit)
	if beforeVersion > 0 {
		q = q.Where("gr.version < ?", beforeVersion)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrapDBError("load relationship history", err)
	}
	return rows, nil
}

// EdgeParams selects relationship heads touching a set of objects.
type EdgeParams struct {
	ProjectID      uuid.UUID
	ObjectIDs      []uuid.UUID
	Direction      Direction
	Types          []string
	IncludeDeleted bool
}

// Edges returns relationship heads with an endpoint in ObjectIDs on the
// requested side, ordered by (type, canonical_id).
func (r *Repository) Edges(ctx context.Context, params EdgeParams) ([]*GraphRelationship, error) {
	var rows []*GraphRelationship
	if len(params.ObjectIDs) == 0 {
		return rows, nil
	}
	ids := bun.In(params.ObjectIDs)

	q := r.db.NewSelect().
		Model(&rows).
		Where("gr.project_id = ?", params.ProjectID).
		Where(relationshipHeadOnly)

	switch params.Direction {
	case DirectionOut:
		q = q.Where("gr.src_id IN (?)", ids)
	case DirectionIn:
		q = q.Where("gr.dst_id IN (?)", ids)
	default:
		q = q.Where("(gr.src_id IN (?) OR gr.dst_id IN (?))", ids, ids)
	}
	if !params.IncludeDeleted {
		q = q.Where("gr.deleted_at IS NULL")
	}
	if len(params.Types) > 0 {
		q = q.Where("gr.type IN (?)", bun.In(params.Types))
	}

	if err := q.OrderExpr("gr.type, gr.canonical_id").Scan(ctx); err != nil {
		return nil, wrapDBError("list edges", err)
	}
	return rows, nil
}

// RelationshipListParams selects relationship heads for listing.
type RelationshipListParams struct {
	ProjectID      uuid.UUID
	Types          []string
	SrcID          *uuid.UUID
	DstID          *uuid.UUID
	IncludeDeleted bool
	Limit          int
	Cursor         string
}

// ListRelationships returns relationship heads newest first and the cursor of
// the next page ("" at the end).
func (r *Repository) ListRelationships(ctx context.Context, params RelationshipListParams) ([]*GraphRelationship, string, error) {
	var rows []*GraphRelationship
	q := r.db.NewSelect().
		Model(&rows).
		Where("gr.project_id = ?", params.ProjectID).
		Where(relationshipHeadOnly)

	if !params.IncludeDeleted {
		q = q.Where("gr.deleted_at IS NULL")
	}
	if len(params.Types) > 0 {
		q = q.Where("gr.type IN (?)", bun.In(params.Types))
	}
	if params.SrcID != nil {
		q = q.Where("gr.src_id = ?", *params.SrcID)
	}
	if params.DstID != nil {
		q = q.Where("gr.dst_id = ?", *params.DstID)
	}
	if params.Cursor != "" {
		c, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", apperror.NewBadRequest("invalid cursor")
		}
		q = q.Where("(gr.created_at, gr.id) < (?, ?)", c.CreatedAt, c.ID)
	}

	err := q.OrderExpr("gr.created_at DESC, gr.id DESC").
		Limit(params.Limit + 1).
		Scan(ctx)
	if err != nil {
		return nil, "", wrapDBError("list relationships", err)
	}

	var next string
	if len(rows) > params.Limit {
		rows = rows[:params.Limit]
		last := rows[len(rows)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return rows, next, nil
}

// LevelEdges returns the live relationship heads leaving a traversal frontier.
func (r *Repository) LevelEdges(ctx context.Context, projectID uuid.UUID, frontier []uuid.UUID, dir Direction, types []string) ([]*GraphRelationship, error) {
	return r.Edges(ctx, EdgeParams{
		ProjectID: projectID,
		ObjectIDs: frontier,
		Direction: dir,
		Types:     types,
	})
}

// relationshipWrite carries what the insert transaction must check.
type relationshipWrite struct {
	rel *GraphRelationship

	// checkEndpoints requires both endpoints to be live object heads.
	checkEndpoints bool

	// onePerSrc / onePerDst enforce the type's multiplicity.
	onePerSrc bool
	onePerDst bool

	// dedupe returns an identical live head instead of inserting.
	dedupe bool
}

// WriteRelationship inserts w.rel after the endpoint, multiplicity and dedupe
// checks, all in one transaction. It returns the row that is now the head:
// w.rel, or the existing identical relationship when deduped.
func (r *Repository) WriteRelationship(ctx context.Context, w relationshipWrite) (*GraphRelationship, bool, error) {
	rel := w.rel
	var (
		out     = rel
		created = true
	)
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		if w.dedupe {
			lock := fmt.Sprintf("rel|%s|%s|%s|%s", rel.ProjectID, rel.Type, rel.SrcID, rel.DstID)
			if err := database.AdvisoryXactLock(ctx, tx, lock); err != nil {
				return err
			}
			existing, err := findIdenticalRelationship(ctx, tx, rel)
			if err != nil {
				return err
			}
			if existing != nil {
				out, created = existing, false
				return nil
			}
		}

		if w.checkEndpoints {
			if err := checkEndpoints(ctx, tx, rel); err != nil {
				return err
			}
		}

		if w.onePerSrc || w.onePerDst {
			if err := checkMultiplicity(ctx, tx, rel, w.onePerSrc, w.onePerDst); err != nil {
				return err
			}
		}

		_, err := tx.NewInsert().Model(rel).Returning("created_at").Exec(ctx)
		return err
	})
	if err == nil {
		return out, created, nil
	}
	if isVersionRace(err) {
		return nil, false, fmt.Errorf("insert relationship version %d: %w", rel.Version, errVersionRace)
	}
	return nil, false, wrapDBError("insert relationship", err)
}

func findIdenticalRelationship(ctx context.Context, db bun.IDB, rel *GraphRelationship) (*GraphRelationship, error) {
	existing := new(GraphRelationship)
	err := db.NewSelect().
		Model(existing).
		Where("gr.project_id = ?", rel.ProjectID).
		Where("gr.type = ?", rel.Type).
		Where("gr.src_id = ?", rel.SrcID).
		Where("gr.dst_id = ?", rel.DstID).
		Where("gr.content_hash = ?", rel.ContentHash).
		Where("gr.deleted_at IS NULL").
		Where(relationshipHeadOnly).
		OrderExpr("gr.created_at").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func checkEndpoints(ctx context.Context, db bun.IDB, rel *GraphRelationship) error {
	heads, err := liveObjectHeads(ctx, db, rel.ProjectID, []uuid.UUID{rel.SrcID, rel.DstID})
	if err != nil {
		return err
	}
	var missing []string
	details := map[string]any{}
	if heads[rel.SrcID] == nil {
		missing = append(missing, "src")
		details["src_id"] = rel.SrcID.String()
	}
	if heads[rel.DstID] == nil {
		missing = append(missing, "dst")
		details["dst_id"] = rel.DstID.String()
	}
	if len(missing) == 0 {
		return nil
	}
	return apperror.ErrDanglingReference.
		WithMessage(fmt.Sprintf("%s endpoint is not a live object", strings.Join(missing, " and "))).
		WithDetails(details)
}

// checkMultiplicity counts other live heads of the same type on each
// constrained endpoint. Endpoint locks are taken in a fixed order so two
// writers on overlapping endpoints cannot deadlock.
func checkMultiplicity(ctx context.Context, db bun.IDB, rel *GraphRelationship, onePerSrc, onePerDst bool) error {
	type side struct {
		column string
		id     uuid.UUID
		lock   string
	}
	var sides []side
	if onePerSrc {
		sides = append(sides, side{"src_id", rel.SrcID, fmt.Sprintf("mult|%s|%s|src:%s", rel.ProjectID, rel.Type, rel.SrcID)})
	}
	if onePerDst {
		sides = append(sides, side{"dst_id", rel.DstID, fmt.Sprintf("mult|%s|%s|dst:%s", rel.ProjectID, rel.Type, rel.DstID)})
	}
	sort.Slice(sides, func(i, j int) bool { return sides[i].lock < sides[j].lock })

	for _, s := range sides {
		if err := database.AdvisoryXactLock(ctx, db, s.lock); err != nil {
			return err
		}
	}
	for _, s := range sides {
		n, err := db.NewSelect().
			Model((*GraphRelationship)(nil)).
			Where("gr.project_id = ?", rel.ProjectID).
			Where("gr.type = ?", rel.Type).
			Where("gr."+s.column+" = ?", s.id).
			Where("gr.canonical_id <> ?", rel.CanonicalID).
			Where("gr.deleted_at IS NULL").
			Where(relationshipHeadOnly).
			Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.ErrMultiplicityViolation.
				WithMessage(fmt.Sprintf("%s already has a live %s relationship on %s", s.id, rel.Type, strings.TrimSuffix(s.column, "_id"))).
				WithDetails(map[string]any{"type": rel.Type, "endpoint": s.id.String(), "side": strings.TrimSuffix(s.column, "_id")})
		}
	}
	return nil
}
