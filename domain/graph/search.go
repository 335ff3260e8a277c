package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emergent-company/emergent.graph/pkg/mathutil"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/tracing"
)

// SearchParams is a hybrid query. Either leg may be empty, not both.
type SearchParams struct {
	ProjectID uuid.UUID
	Query     string
	Vector    []float32
	Types     []string
	Labels    []string
	Filters   []PropertyFilter
	Limit     int

	LexicalWeight float32
	VectorWeight  float32
}

// SearchHit is one fused result. Leg scores are the normalized per-leg
// scores, nil when the object was not returned by that leg.
type SearchHit struct {
	Object       *GraphObject `json:"object"`
	Score        float64      `json:"score"`
	LexicalScore *float64     `json:"lexical_score,omitempty"`
	VectorScore  *float64     `json:"vector_score,omitempty"`
}

// searchSource runs the two retrieval legs.
type searchSource interface {
	LexicalSearch(ctx context.Context, p SearchParams, limit int) ([]scoredObject, error)
	VectorSearch(ctx context.Context, p SearchParams, limit, probes int) ([]scoredObject, error)
}

// candidateFactor widens each leg so fusion has more than Limit rows to rank.
const candidateFactor = 2

// hybridSearch runs the lexical and vector legs in parallel, z-score
// normalizes each leg through a sigmoid and fuses them with the weights.
// An object missing from a leg scores 0 on it.
func hybridSearch(ctx context.Context, src searchSource, p SearchParams, probes int) ([]SearchHit, error) {
	ctx, span := tracing.Start(ctx, "graph.search",
		attribute.String("graph.project_id", p.ProjectID.String()),
		attribute.Bool("graph.lexical", p.Query != ""),
		attribute.Bool("graph.vector", len(p.Vector) > 0),
	)
	defer span.End()
	start := time.Now()

	useLexical := strings.TrimSpace(p.Query) != ""
	useVector := len(p.Vector) > 0
	wl, wv := p.LexicalWeight, p.VectorWeight
	switch {
	case !useVector:
		wl, wv = 1, 0
	case !useLexical:
		wl, wv = 0, 1
	default:
		wl, wv = mathutil.NormalizeWeights(wl, wv)
	}

	candidates := p.Limit * candidateFactor
	var lexical, vector []scoredObject

	g, gctx := errgroup.WithContext(ctx)
	if useLexical {
		g.Go(func() error {
			legStart := time.Now()
			defer func() { metrics.SearchDuration.WithLabelValues("lexical").Observe(time.Since(legStart).Seconds()) }()
			rows, err := src.LexicalSearch(gctx, p, candidates)
			lexical = rows
			return err
		})
	}
	if useVector {
		g.Go(func() error {
			legStart := time.Now()
			defer func() { metrics.SearchDuration.WithLabelValues("vector").Observe(time.Since(legStart).Seconds()) }()
			rows, err := src.VectorSearch(gctx, p, candidates, probes)
			vector = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, tracing.RecordError(span, err)
	}

	hits := fuse(lexical, vector, wl, wv)
	if len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}

	metrics.SearchDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("graph.hits", len(hits)))
	return hits, nil
}

// fuse merges both legs by canonical id. Ties are broken by canonical id.
func fuse(lexical, vector []scoredObject, wl, wv float32) []SearchHit {
	byID := make(map[uuid.UUID]*SearchHit)
	var order []uuid.UUID

	add := func(rows []scoredObject, weight float32, lexicalLeg bool) {
		raw := make([]float32, len(rows))
		for i, r := range rows {
			raw[i] = float32(r.Score)
		}
		norm := mathutil.ZSigmoid(raw)
		for i := range rows {
			obj := rows[i].GraphObject
			hit, ok := byID[obj.CanonicalID]
			if !ok {
				hit = &SearchHit{Object: &obj}
				byID[obj.CanonicalID] = hit
				order = append(order, obj.CanonicalID)
			}
			score := float64(norm[i])
			if lexicalLeg {
				hit.LexicalScore = &score
			} else {
				hit.VectorScore = &score
			}
			hit.Score += float64(weight) * score
		}
	}
	add(lexical, wl, true)
	add(vector, wv, false)

	hits := make([]SearchHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *byID[id])
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Object.CanonicalID.String() < hits[j].Object.CanonicalID.String()
	})
	return hits
}
