package graph

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/emergent-company/emergent.graph/internal/database"
	"github.com/emergent-company/emergent.graph/pkg/pgutils"
)

// scoredObject is an object head with the score one search leg gave it.
type scoredObject struct {
	GraphObject `bun:",extend"`

	Score float64 `bun:"score"`
}

// searchScope narrows both search legs to live heads matching the filters.
func searchScope(q *bun.SelectQuery, p SearchParams) *bun.SelectQuery {
	q = q.Where("go.project_id = ?", p.ProjectID).
		Where(objectHeadOnly).
		Where("go.deleted_at IS NULL")
	if len(p.Types) > 0 {
		q = q.Where("go.type IN (?)", bun.In(p.Types))
	}
	if len(p.Labels) > 0 {
		q = q.Where("go.labels @> ?", pgdialect.Array(p.Labels))
	}
	return applyPropertyFilters(q, p.Filters)
}

// LexicalSearch ranks heads by full-text match of query against the fts column.
func (r *Repository) LexicalSearch(ctx context.Context, p SearchParams, limit int) ([]scoredObject, error) {
	var rows []scoredObject
	q := r.db.NewSelect().
		Model(&rows).
		Column(objectColumns...).
		ColumnExpr("ts_rank(go.fts, websearch_to_tsquery('simple', ?)) AS score", p.Query).
		Where("go.fts @@ websearch_to_tsquery('simple', ?)", p.Query)
	q = searchScope(q, p)

	if err := q.OrderExpr("score DESC, go.canonical_id").Limit(limit).Scan(ctx); err != nil {
		return nil, wrapDBError("lexical search", err)
	}
	return rows, nil
}

// VectorSearch ranks heads by cosine similarity of their embedding to p.Vector.
// The query runs in its own transaction so ivfflat.probes stays local to it.
func (r *Repository) VectorSearch(ctx context.Context, p SearchParams, limit, probes int) ([]scoredObject, error) {
	var rows []scoredObject
	vec := pgutils.FormatVector(p.Vector)

	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		if probes > 0 {
			if err := database.SetLocal(ctx, tx, "ivfflat.probes", probes); err != nil {
				return err
			}
		}
		q := tx.NewSelect().
			Model(&rows).
			Column(objectColumns...).
			ColumnExpr("1 - (go.embedding <=> ?::vector) AS score", vec).
			Where("go.embedding IS NOT NULL")
		q = searchScope(q, p)
		return q.OrderExpr("go.embedding <=> ?::vector", vec).Limit(limit).Scan(ctx)
	})
	if err != nil {
		return nil, wrapDBError("vector search", err)
	}
	return rows, nil
}
