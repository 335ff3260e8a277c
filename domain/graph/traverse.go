package graph

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/tracing"
)

// TraverseParams bounds a breadth-first walk from Roots.
type TraverseParams struct {
	ProjectID uuid.UUID
	Roots     []uuid.UUID
	MaxDepth  int
	MaxNodes  int
	Types     []string
	Direction Direction
}

// TraversalNode is an object reached by a traversal at its minimal depth.
type TraversalNode struct {
	ID     uuid.UUID `json:"id"`
	Depth  int       `json:"depth"`
	Type   string    `json:"type"`
	Key    *string   `json:"key,omitempty"`
	Labels []string  `json:"labels"`
}

// TraversalEdge is a relationship between two returned nodes.
type TraversalEdge struct {
	ID    uuid.UUID `json:"id"`
	Type  string    `json:"type"`
	SrcID uuid.UUID `json:"src_id"`
	DstID uuid.UUID `json:"dst_id"`
}

// TraversalResult is the bounded subgraph around the roots.
// Nodes are ordered by depth, then discovery order within the level.
// MaxDepth and MaxNodes echo the caps the walk ran with.
type TraversalResult struct {
	Roots           []uuid.UUID     `json:"roots"`
	Nodes           []TraversalNode `json:"nodes"`
	Edges           []TraversalEdge `json:"edges"`
	Truncated       bool            `json:"truncated"`
	MaxDepthReached int             `json:"max_depth_reached"`
	MaxDepth        int             `json:"max_depth"`
	MaxNodes        int             `json:"max_nodes"`
}

// traversalSource is the data a traversal reads, one batch per level.
type traversalSource interface {
	LiveObjectHeads(ctx context.Context, projectID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*GraphObject, error)
	LevelEdges(ctx context.Context, projectID uuid.UUID, frontier []uuid.UUID, dir Direction, types []string) ([]*GraphRelationship, error)
}

// traverse walks the graph level by level. A node keeps the depth it was first
// discovered at, so cycles cost one visit. Truncated is set only when the node
// cap leaves a live unvisited object reachable; reaching MaxDepth is not truncation.
func traverse(ctx context.Context, src traversalSource, p TraverseParams) (*TraversalResult, error) {
	ctx, span := tracing.Start(ctx, "graph.traverse",
		attribute.String("graph.project_id", p.ProjectID.String()),
		attribute.Int("graph.max_depth", p.MaxDepth),
		attribute.Int("graph.max_nodes", p.MaxNodes),
	)
	defer span.End()

	roots := dedupeIDs(p.Roots)
	rootsCapped := len(roots) > p.MaxNodes
	if rootsCapped {
		roots = roots[:p.MaxNodes]
	}
	heads, err := src.LiveObjectHeads(ctx, p.ProjectID, roots)
	if err != nil {
		return nil, tracing.RecordError(span, err)
	}

	result := &TraversalResult{
		Roots:     []uuid.UUID{},
		Nodes:     []TraversalNode{},
		Edges:     []TraversalEdge{},
		Truncated: rootsCapped,
		MaxDepth:  p.MaxDepth,
		MaxNodes:  p.MaxNodes,
	}
	visited := make(map[uuid.UUID]bool)
	frontier := make([]uuid.UUID, 0, len(roots))
	for _, id := range roots {
		head, ok := heads[id]
		if !ok {
			continue
		}
		visited[id] = true
		result.Roots = append(result.Roots, id)
		result.Nodes = append(result.Nodes, nodeOf(head, 0))
		frontier = append(frontier, id)
	}
	if len(frontier) == 0 {
		return nil, tracing.RecordError(span, apperror.ErrNotFound.WithMessage("no live root objects"))
	}

	var edges []*GraphRelationship
	seenEdges := make(map[uuid.UUID]bool)

	for depth := 0; len(frontier) > 0 && depth < p.MaxDepth; depth++ {
		if len(result.Nodes) >= p.MaxNodes {
			more, err := hasUnvisitedNeighbor(ctx, src, p, frontier, visited)
			if err != nil {
				return nil, tracing.RecordError(span, err)
			}
			result.Truncated = more
			break
		}

		rels, err := src.LevelEdges(ctx, p.ProjectID, frontier, p.Direction, p.Types)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}

		candidates := expandFrontier(frontier, rels, p.Direction, visited)
		for _, rel := range rels {
			if !seenEdges[rel.CanonicalID] {
				seenEdges[rel.CanonicalID] = true
				edges = append(edges, rel)
			}
		}

		found, err := src.LiveObjectHeads(ctx, p.ProjectID, candidates)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}

		next := make([]uuid.UUID, 0, len(candidates))
		for _, id := range candidates {
			head, ok := found[id]
			if !ok {
				continue
			}
			if len(result.Nodes) >= p.MaxNodes {
				result.Truncated = true
				break
			}
			visited[id] = true
			result.Nodes = append(result.Nodes, nodeOf(head, depth+1))
			next = append(next, id)
		}
		if len(next) > 0 {
			result.MaxDepthReached = depth + 1
		}
		if result.Truncated {
			break
		}
		frontier = next
	}

	for _, rel := range edges {
		if visited[rel.SrcID] && visited[rel.DstID] {
			result.Edges = append(result.Edges, TraversalEdge{ID: rel.CanonicalID, Type: rel.Type, SrcID: rel.SrcID, DstID: rel.DstID})
		}
	}

	metrics.TraversalNodes.Observe(float64(len(result.Nodes)))
	if result.Truncated {
		metrics.TraversalsTruncated.Inc()
	}
	span.SetAttributes(
		attribute.Int("graph.nodes", len(result.Nodes)),
		attribute.Bool("graph.truncated", result.Truncated),
	)
	return result, nil
}

// hasUnvisitedNeighbor looks one level past a full result to tell a real cut
// from a graph that happened to end exactly at the cap.
func hasUnvisitedNeighbor(ctx context.Context, src traversalSource, p TraverseParams, frontier []uuid.UUID, visited map[uuid.UUID]bool) (bool, error) {
	rels, err := src.LevelEdges(ctx, p.ProjectID, frontier, p.Direction, p.Types)
	if err != nil {
		return false, err
	}
	candidates := expandFrontier(frontier, rels, p.Direction, visited)
	if len(candidates) == 0 {
		return false, nil
	}
	found, err := src.LiveObjectHeads(ctx, p.ProjectID, candidates)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// expandFrontier lists the unvisited neighbours of the frontier in a stable
// order: frontier order first, then each node's edges by (type, canonical id).
func expandFrontier(frontier []uuid.UUID, rels []*GraphRelationship, dir Direction, visited map[uuid.UUID]bool) []uuid.UUID {
	inFrontier := make(map[uuid.UUID]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}

	type hop struct {
		rel      *GraphRelationship
		neighbor uuid.UUID
	}
	byNode := make(map[uuid.UUID][]hop)
	for _, rel := range rels {
		if dir != DirectionIn && inFrontier[rel.SrcID] {
			byNode[rel.SrcID] = append(byNode[rel.SrcID], hop{rel, rel.DstID})
		}
		if dir != DirectionOut && inFrontier[rel.DstID] {
			byNode[rel.DstID] = append(byNode[rel.DstID], hop{rel, rel.SrcID})
		}
	}

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, id := range frontier {
		hops := byNode[id]
		sort.SliceStable(hops, func(i, j int) bool {
			if hops[i].rel.Type != hops[j].rel.Type {
				return hops[i].rel.Type < hops[j].rel.Type
			}
			return hops[i].rel.CanonicalID.String() < hops[j].rel.CanonicalID.String()
		})
		for _, h := range hops {
			if visited[h.neighbor] || seen[h.neighbor] {
				continue
			}
			seen[h.neighbor] = true
			out = append(out, h.neighbor)
		}
	}
	return out
}

func nodeOf(obj *GraphObject, depth int) TraversalNode {
	labels := obj.Labels
	if labels == nil {
		labels = []string{}
	}
	return TraversalNode{ID: obj.CanonicalID, Depth: depth, Type: obj.Type, Key: obj.Key, Labels: labels}
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
