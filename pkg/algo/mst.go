package algo

import (
	"context"
	"fmt"
	"sort"

	"github.com/orneryd/graphos/pkg/storage"
)

// MSTResult is the output of MinimumSpanningTree: the chosen edges and
// their summed weight. For a graph of several components the result is a
// minimum spanning forest with |V|-1 edges per component.
type MSTResult struct {
	Edges       []*storage.Edge `json:"edges"`
	TotalWeight float64         `json:"total_weight"`
}

// MinimumSpanningTree computes a minimum spanning tree by Kruskal's
// algorithm over the undirected projection, using a disjoint-set union
// with path compression and union by rank.
//
// Candidate edges are ordered by weight (id tie-break), so the result is
// deterministic. Negative weights return ErrInvalidWeight.
func MinimumSpanningTree(ctx context.Context, engine storage.Engine, opts Options) (*MSTResult, error) {
	opts = opts.normalize()

	edges, err := engine.IterateEdges(storage.EdgeFilter{Key: opts.EdgeKey})
	if err != nil {
		return nil, err
	}
	nodes, err := engine.AllNodes()
	if err != nil {
		return nil, err
	}

	for _, e := range edges {
		if EdgeWeight(e, opts) < 0 {
			return nil, fmt.Errorf("edge %s: %w", e.ID, ErrInvalidWeight)
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		wi, wj := EdgeWeight(edges[i], opts), EdgeWeight(edges[j], opts)
		if wi != wj {
			return wi < wj
		}
		return edges[i].ID < edges[j].ID
	})

	dsu := newDisjointSet()
	for _, n := range nodes {
		dsu.add(n.ID)
	}

	result := &MSTResult{}
	for _, e := range edges {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		if dsu.union(e.Source, e.Target) {
			result.Edges = append(result.Edges, e)
			result.TotalWeight += EdgeWeight(e, opts)
		}
	}

	return result, nil
}

// disjointSet is a union-find structure with path compression and union
// by rank.
type disjointSet struct {
	parent map[storage.NodeID]storage.NodeID
	rank   map[storage.NodeID]int
}

func newDisjointSet() *disjointSet {
	return &disjointSet{
		parent: make(map[storage.NodeID]storage.NodeID),
		rank:   make(map[storage.NodeID]int),
	}
}

func (d *disjointSet) add(id storage.NodeID) {
	if _, ok := d.parent[id]; !ok {
		d.parent[id] = id
	}
}

func (d *disjointSet) find(id storage.NodeID) storage.NodeID {
	root := id
	for d.parent[root] != root {
		root = d.parent[root]
	}
	// Path compression: point every node on the walk at the root.
	for d.parent[id] != root {
		d.parent[id], id = root, d.parent[id]
	}
	return root
}

// union merges the sets containing a and b. Reports false when they were
// already in the same set.
func (d *disjointSet) union(a, b storage.NodeID) bool {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return false
	}
	switch {
	case d.rank[ra] < d.rank[rb]:
		d.parent[ra] = rb
	case d.rank[ra] > d.rank[rb]:
		d.parent[rb] = ra
	default:
		d.parent[rb] = ra
		d.rank[ra]++
	}
	return true
}
