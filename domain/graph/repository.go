package graph

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/emergent-company/emergent.graph/internal/database"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/pgutils"
)

// Repository is the data access layer of the graph store. Every query is
// filtered by project.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new graph repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repo")),
	}
}

// objectHeadOnly keeps rows no later version of the same canonical id exists for.
const objectHeadOnly = `NOT EXISTS (
	SELECT 1 FROM kb.graph_objects AS newer
	WHERE newer.canonical_id = go.canonical_id AND newer.version > go.version)`

// keyClaimChange says what a new version does to the (type, key) claim.
type keyClaimChange int

const (
	claimKeep keyClaimChange = iota
	claimRelease
	claimAcquire
)

func selectObjects(db bun.IDB, model any, columns []string) *bun.SelectQuery {
	return db.NewSelect().Model(model).Column(columns...)
}

// HeadByCanonicalID returns the latest version, tombstone or not.
func (r *Repository) HeadByCanonicalID(ctx context.Context, projectID, canonicalID uuid.UUID) (*GraphObject, error) {
	return headObject(ctx, r.db, projectID, canonicalID, objectColumns)
}

// headForWrite is HeadByCanonicalID including the embedding.
func (r *Repository) headForWrite(ctx context.Context, projectID, canonicalID uuid.UUID) (*GraphObject, error) {
	return headObject(ctx, r.db, projectID, canonicalID, objectWriteColumns)
}

func headObject(ctx context.Context, db bun.IDB, projectID, canonicalID uuid.UUID, columns []string) (*GraphObject, error) {
	obj := new(GraphObject)
	err := selectObjects(db, obj, columns).
		Where("go.project_id = ?", projectID).
		Where("go.canonical_id = ?", canonicalID).
		OrderExpr("go.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("object", canonicalID.String())
	}
	if err != nil {
		return nil, wrapDBError("load object head", err)
	}
	return obj, nil
}

// HeadByKey returns the live head holding (type, key).
func (r *Repository) HeadByKey(ctx context.Context, projectID uuid.UUID, objType, key string) (*GraphObject, error) {
	return r.headByKey(ctx, projectID, objType, key, objectColumns)
}

func (r *Repository) headByKey(ctx context.Context, projectID uuid.UUID, objType, key string, columns []string) (*GraphObject, error) {
	obj := new(GraphObject)
	err := selectObjects(r.db, obj, columns).
		Where("go.project_id = ?", projectID).
		Where(`go.canonical_id = (
			SELECT gk.canonical_id FROM kb.graph_object_keys AS gk
			WHERE gk.project_id = ? AND gk.type = ? AND gk.key = ?)`, projectID, objType, key).
		OrderExpr("go.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("object", objType+"/"+key)
	}
	if err != nil {
		return nil, wrapDBError("load object by key", err)
	}
	return obj, nil
}

// History returns versions of canonicalID below beforeVersion (all when 0),
// newest first, at most limit rows.
func (r *Repository) History(ctx context.Context, projectID, canonicalID uuid.UUID, beforeVersion, limit int) ([]*GraphObject, error) {
	var rows []*GraphObject
	q := selectObjects(r.db, &rows, objectColumns).
		Where("go.project_id = ?", projectID).
		Where("go.canonical_id = ?", canonicalID).
		OrderExpr("go.version DESC").
		Limit(limit)
	if beforeVersion > 0 {
		q = q.Where("go.version < ?", beforeVersion)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrapDBError("load object history", err)
	}
	return rows, nil
}

// ListParams selects object heads.
type ListParams struct {
	ProjectID       uuid.UUID
	Types           []string
	Labels          []string // all must be present
	Key             *string
	IncludeDeleted  bool
	PropertyFilters []PropertyFilter
	Limit           int
	Cursor          string
}

// List returns heads newest first and the cursor of the next page ("" at the end).
func (r *Repository) List(ctx context.Context, params ListParams) ([]*GraphObject, string, error) {
	var rows []*GraphObject
	q := selectObjects(r.db, &rows, objectColumns).
		Where("go.project_id = ?", params.ProjectID).
		Where(objectHeadOnly)

	if !params.IncludeDeleted {
		q = q.Where("go.deleted_at IS NULL")
	}
	if len(params.Types) > 0 {
		q = q.Where("go.type IN (?)", bun.In(params.Types))
	}
	if len(params.Labels) > 0 {
		q = q.Where("go.labels @> ?", pgdialect.Array(params.Labels))
	}
	if params.Key != nil {
		q = q.Where("go.key = ?", *params.Key)
	}
	q = applyPropertyFilters(q, params.PropertyFilters)

	if params.Cursor != "" {
		c, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", apperror.NewBadRequest("invalid cursor")
		}
		q = q.Where("(go.created_at, go.id) < (?, ?)", c.CreatedAt, c.ID)
	}

	err := q.OrderExpr("go.created_at DESC, go.id DESC").
		Limit(params.Limit + 1).
		Scan(ctx)
	if err != nil {
		return nil, "", wrapDBError("list objects", err)
	}

	var next string
	if len(rows) > params.Limit {
		rows = rows[:params.Limit]
		last := rows[len(rows)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return rows, next, nil
}

// LiveObjectHeads resolves canonical ids to their heads, keeping only live ones.
func (r *Repository) LiveObjectHeads(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*GraphObject, error) {
	return liveObjectHeads(ctx, r.db, projectID, ids)
}

func liveObjectHeads(ctx context.Context, db bun.IDB, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*GraphObject, error) {
	out := make(map[uuid.UUID]*GraphObject, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*GraphObject
	err := selectObjects(db, &rows, objectColumns).
		Where("go.project_id = ?", projectID).
		Where("go.canonical_id IN (?)", bun.In(ids)).
		Where(objectHeadOnly).
		Where("go.deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		return nil, wrapDBError("resolve object heads", err)
	}
	for _, row := range rows {
		out[row.CanonicalID] = row
	}
	return out, nil
}

// InsertFirst writes version 1 of a new object and claims its key.
func (r *Repository) InsertFirst(ctx context.Context, obj *GraphObject) error {
	return r.writeObject(ctx, obj, claimAcquire)
}

// InsertVersion appends obj on top of the head it supersedes. A lost version
// race is reported as errVersionRace.
func (r *Repository) InsertVersion(ctx context.Context, obj *GraphObject, claim keyClaimChange) error {
	return r.writeObject(ctx, obj, claim)
}

func (r *Repository) writeObject(ctx context.Context, obj *GraphObject, claim keyClaimChange) error {
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(obj).Returning("created_at").Exec(ctx); err != nil {
			return err
		}

		switch claim {
		case claimAcquire:
			if obj.Key == nil {
				return nil
			}
			_, err := tx.NewInsert().Model(&objectKeyClaim{
				ProjectID:   obj.ProjectID,
				Type:        obj.Type,
				Key:         *obj.Key,
				CanonicalID: obj.CanonicalID,
			}).Exec(ctx)
			return err
		case claimRelease:
			_, err := releaseKeyClaim(tx, obj).Exec(ctx)
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if isVersionRace(err) {
		return fmt.Errorf("insert object version %d: %w", obj.Version, errVersionRace)
	}
	if pgutils.IsUniqueViolation(err) && pgutils.ConstraintName(err) == objectKeyClaimKey {
		return apperror.ErrDuplicateKey.
			WithMessage(fmt.Sprintf("a live %s already holds key %q", obj.Type, *obj.Key)).
			WithDetails(map[string]any{"type": obj.Type, "key": *obj.Key})
	}
	return wrapDBError("insert object", err)
}

func releaseKeyClaim(db bun.IDB, obj *GraphObject) *bun.DeleteQuery {
	return db.NewDelete().
		Model((*objectKeyClaim)(nil)).
		Where("project_id = ?", obj.ProjectID).
		Where("canonical_id = ?", obj.CanonicalID)
}

// Cursor is the position after the last row of a page.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

func decodeCursor(encoded string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeCursor(createdAt time.Time, id uuid.UUID) string {
	data, _ := json.Marshal(Cursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(data)
}

func wrapDBError(op string, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgutils.IsConnectionError(err) {
		return apperror.ErrStoreUnavailable.WithInternal(fmt.Errorf("%s: %w", op, err))
	}
	return apperror.ErrDatabase.WithInternal(fmt.Errorf("%s: %w", op, err))
}
