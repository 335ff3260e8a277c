package schemaregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/emergent.graph/internal/database"
	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/pgutils"
)

// BuildFunc derives the next schema version from the current latest one (nil if none).
type BuildFunc func(prev *TypeSchema) (*TypeSchema, error)

// Repository persists type schemas.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a new schema repository
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Latest returns the highest version for key, tombstones included, or nil.
func (r *Repository) Latest(ctx context.Context, key Key) (*TypeSchema, error) {
	return latest(ctx, r.db, key)
}

func latest(ctx context.Context, db bun.IDB, key Key) (*TypeSchema, error) {
	var row TypeSchema
	err := db.NewSelect().
		Model(&row).
		Where("ts.project_id = ?", key.ProjectID).
		Where("ts.kind = ?", key.Kind).
		Where("ts.type_name = ?", key.TypeName).
		OrderExpr("ts.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("load schema", err)
	}
	return &row, nil
}

// Append writes the version produced by build on top of the latest one.
// Writers on the same key are serialized by an advisory lock so versions stay contiguous.
func (r *Repository) Append(ctx context.Context, key Key, build BuildFunc) (*TypeSchema, error) {
	var out *TypeSchema
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, "schema|"+key.String()); err != nil {
			return wrapDBError("lock schema", err)
		}
		prev, err := latest(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := build(prev)
		if err != nil {
			return err
		}

		next.ID = uuid.New()
		next.ProjectID = key.ProjectID
		next.Kind = key.Kind
		next.TypeName = key.TypeName
		next.Version = 1
		next.SupersedesID = nil
		if prev != nil {
			next.Version = prev.Version + 1
			next.SupersedesID = &prev.ID
		}

		if _, err := tx.NewInsert().Model(next).Returning("*").Exec(ctx); err != nil {
			return wrapDBError("insert schema", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActive returns the live latest version of every type in a project.
// An empty kind lists both kinds.
func (r *Repository) ListActive(ctx context.Context, projectID uuid.UUID, kind Kind) ([]TypeSchema, error) {
	var rows []TypeSchema
	q := r.db.NewSelect().
		Model(&rows).
		Where("ts.project_id = ?", projectID).
		Where("ts.deleted_at IS NULL").
		Where(`NOT EXISTS (
			SELECT 1 FROM kb.type_schemas n
			WHERE n.project_id = ts.project_id AND n.kind = ts.kind
			  AND n.type_name = ts.type_name AND n.version > ts.version)`).
		OrderExpr("ts.kind, ts.type_name")
	if kind != "" {
		q = q.Where("ts.kind = ?", kind)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrapDBError("list schemas", err)
	}
	return rows, nil
}

func wrapDBError(op string, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if pgutils.IsConnectionError(err) {
		return apperror.ErrStoreUnavailable.WithInternal(fmt.Errorf("%s: %w", op, err))
	}
	return apperror.ErrDatabase.WithInternal(fmt.Errorf("%s: %w", op, err))
}
