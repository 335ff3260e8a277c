package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

// FilterOp is a property comparison operator.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNeq      FilterOp = "neq"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpIn       FilterOp = "in"
	OpExists   FilterOp = "exists"
	OpContains FilterOp = "contains"
)

// PropertyFilter compares the property at a dot-separated Path.
type PropertyFilter struct {
	Path  string   `json:"path"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
}

var queryOperators = map[string]FilterOp{
	"$eq":       OpEq,
	"$ne":       OpNeq,
	"$gt":       OpGt,
	"$gte":      OpGte,
	"$lt":       OpLt,
	"$lte":      OpLte,
	"$in":       OpIn,
	"$exists":   OpExists,
	"$contains": OpContains,
}

// ParseFilter translates a query document such as
//
//	{"age": {"$gt": 30, "$lt": 65}, "name": "Ada", "address.city": {"$in": ["Oslo", "Bergen"]}}
//
// into property filters. Conditions are ANDed; a bare value means $eq.
func ParseFilter(doc map[string]any) ([]PropertyFilter, error) {
	paths := make([]string, 0, len(doc))
	for p := range doc {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var filters []PropertyFilter
	for _, path := range paths {
		cond := doc[path]
		ops, isOps := operatorDoc(cond)
		if !isOps {
			filters = append(filters, PropertyFilter{Path: path, Op: OpEq, Value: cond})
			continue
		}
		names := make([]string, 0, len(ops))
		for name := range ops {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op, ok := queryOperators[name]
			if !ok {
				return nil, apperror.NewBadRequest(fmt.Sprintf("unknown filter operator %q on %q", name, path))
			}
			filters = append(filters, PropertyFilter{Path: path, Op: op, Value: ops[name]})
		}
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

// operatorDoc reports whether v is an operator object ({"$gt": 1}).
func operatorDoc(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// Validate checks the path and that the value suits the operator.
func (f PropertyFilter) Validate() error {
	if _, err := pathSegments(f.Path); err != nil {
		return err
	}
	bad := func(want string) error {
		return apperror.NewBadRequest(fmt.Sprintf("filter %s on %q needs %s", f.Op, f.Path, want))
	}
	switch f.Op {
	case OpEq, OpNeq:
		if !isScalar(f.Value) {
			return bad("a scalar value")
		}
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toNumber(f.Value); !ok {
			if _, ok := f.Value.(string); !ok {
				return bad("a number or string")
			}
		}
	case OpIn:
		arr, ok := f.Value.([]any)
		if !ok || len(arr) == 0 {
			return bad("a non-empty array")
		}
		for _, v := range arr {
			if !isScalar(v) {
				return bad("an array of scalars")
			}
		}
	case OpExists:
		if _, ok := f.Value.(bool); !ok {
			return bad("a boolean")
		}
	case OpContains:
		if _, ok := f.Value.(string); !ok {
			return bad("a string")
		}
	default:
		return apperror.NewBadRequest(fmt.Sprintf("unknown filter operator %q", f.Op))
	}
	return nil
}

func pathSegments(path string) ([]string, error) {
	if path == "" {
		return nil, apperror.NewBadRequest("filter path is empty")
	}
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, apperror.NewBadRequest(fmt.Sprintf("filter path %q has an empty segment", path))
		}
	}
	return segments, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool:
		return true
	}
	_, ok := toNumber(v)
	return ok
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// nestedDoc builds {"a":{"b":value}} for path a.b, the shape @> matches on.
func nestedDoc(segments []string, value any) string {
	var doc any = value
	for i := len(segments) - 1; i >= 0; i-- {
		doc = map[string]any{segments[i]: doc}
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

func jsonLiteral(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const (
	propJSON = "(?TableAlias.properties #> ?::text[])"
	propText = "(?TableAlias.properties #>> ?::text[])"
	propNum  = "(CASE WHEN jsonb_typeof(?TableAlias.properties #> ?::text[]) = 'number' THEN (?TableAlias.properties #>> ?::text[])::numeric END)"
	propStr  = "(CASE WHEN jsonb_typeof(?TableAlias.properties #> ?::text[]) = 'string' THEN ?TableAlias.properties #>> ?::text[] END)"
)

var comparators = map[FilterOp]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}

// applyPropertyFilters adds one WHERE clause per filter against the properties
// column of the query's model table. Filters must have been validated.
// Equality uses jsonb containment so it is served by the properties GIN index
// and compares numbers numerically.
func applyPropertyFilters(q *bun.SelectQuery, filters []PropertyFilter) *bun.SelectQuery {
	for _, f := range filters {
		segments, err := pathSegments(f.Path)
		if err != nil {
			continue
		}
		path := pgdialect.Array(segments)

		switch f.Op {
		case OpEq:
			q = q.Where("?TableAlias.properties @> ?::jsonb", nestedDoc(segments, f.Value))
		case OpNeq:
			q = q.Where("NOT (?TableAlias.properties @> ?::jsonb)", nestedDoc(segments, f.Value))
		case OpGt, OpGte, OpLt, OpLte:
			cmpOp := comparators[f.Op]
			if n, ok := toNumber(f.Value); ok {
				q = q.Where(propNum+" "+cmpOp+" ?::numeric", path, path, n)
			} else {
				q = q.Where(propStr+" "+cmpOp+" ?", path, path, f.Value)
			}
		case OpIn:
			values := f.Value.([]any)
			literals := make([]string, len(values))
			for i, v := range values {
				literals[i] = jsonLiteral(v)
			}
			q = q.Where(propJSON+" IN (?)", path, bun.In(literals))
		case OpExists:
			if f.Value.(bool) {
				q = q.Where(propJSON+" IS NOT NULL", path)
			} else {
				q = q.Where(propJSON+" IS NULL", path)
			}
		case OpContains:
			s := f.Value.(string)
			q = q.Where("("+propJSON+" @> ?::jsonb OR "+propText+" ILIKE ?)",
				path, jsonLiteral(s), path, "%"+likeEscaper.Replace(s)+"%")
		}
	}
	return q
}
