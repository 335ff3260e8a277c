package graph

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

// offlineDB formats queries without ever opening a connection.
func offlineDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN("postgres://graph@localhost:1/none?sslmode=disable")))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestParseFilter(t *testing.T) {
	filters, err := ParseFilter(map[string]any{
		"name":         "Ada",
		"age":          map[string]any{"$gte": 30.0, "$lt": 65},
		"address.city": map[string]any{"$in": []any{"Oslo", "Bergen"}},
		"email":        map[string]any{"$exists": true},
	})
	require.NoError(t, err)

	assert.Equal(t, []PropertyFilter{
		{Path: "address.city", Op: OpIn, Value: []any{"Oslo", "Bergen"}},
		{Path: "age", Op: OpGte, Value: 30.0},
		{Path: "age", Op: OpLt, Value: 65},
		{Path: "email", Op: OpExists, Value: true},
		{Path: "name", Op: OpEq, Value: "Ada"},
	}, filters)
}

func TestParseFilterRejectsObjectEquality(t *testing.T) {
	filters, err := ParseFilter(map[string]any{"meta": map[string]any{"lang": "en"}})
	require.Error(t, err, "objects are not scalar equality values")
	assert.Nil(t, filters)
}

func TestParseFilterRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"unknown operator", map[string]any{"age": map[string]any{"$regex": "x"}}},
		{"empty segment", map[string]any{"a..b": 1}},
		{"empty path", map[string]any{"": 1}},
		{"gt on bool", map[string]any{"age": map[string]any{"$gt": true}}},
		{"in not array", map[string]any{"age": map[string]any{"$in": 3}}},
		{"in empty", map[string]any{"age": map[string]any{"$in": []any{}}}},
		{"in nested", map[string]any{"age": map[string]any{"$in": []any{[]any{1}}}}},
		{"exists not bool", map[string]any{"age": map[string]any{"$exists": "yes"}}},
		{"contains number", map[string]any{"name": map[string]any{"$contains": 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.doc)
			assert.ErrorIs(t, err, apperror.ErrBadRequest)
		})
	}
}

func TestApplyPropertyFilters(t *testing.T) {
	db := offlineDB(t)

	tests := []struct {
		name   string
		filter PropertyFilter
		want   []string
	}{
		{"eq", PropertyFilter{Path: "age", Op: OpEq, Value: 30.0}, []string{`"go".properties @> '{"age":30}'::jsonb`}},
		{"nested eq", PropertyFilter{Path: "address.city", Op: OpEq, Value: "Oslo"}, []string{`'{"address":{"city":"Oslo"}}'::jsonb`}},
		{"neq", PropertyFilter{Path: "status", Op: OpNeq, Value: "done"}, []string{`NOT ("go".properties @> '{"status":"done"}'::jsonb)`}},
		{"numeric gt", PropertyFilter{Path: "age", Op: OpGt, Value: 30.0}, []string{"= 'number'", "::numeric >"}},
		{"string lte", PropertyFilter{Path: "born", Op: OpLte, Value: "1990-01-01"}, []string{"= 'string'", "<= '1990-01-01'"}},
		{"in", PropertyFilter{Path: "city", Op: OpIn, Value: []any{"Oslo", 3.0}}, []string{`IN ('"Oslo"', '3')`}},
		{"exists", PropertyFilter{Path: "email", Op: OpExists, Value: true}, []string{"IS NOT NULL"}},
		{"not exists", PropertyFilter{Path: "email", Op: OpExists, Value: false}, []string{"::text[]) IS NULL"}},
		{"contains", PropertyFilter{Path: "bio", Op: OpContains, Value: "50%_off"}, []string{`@> '"50%_off"'::jsonb`, `ILIKE '%50\%\_off%'`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := db.NewSelect().Model((*GraphObject)(nil)).Column("id")
			sqlText := applyPropertyFilters(q, []PropertyFilter{tt.filter}).String()
			for _, want := range tt.want {
				assert.Contains(t, sqlText, want)
			}
		})
	}
}
