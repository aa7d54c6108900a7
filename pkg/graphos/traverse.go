package graphos

import (
	"context"
	"fmt"

	"github.com/orneryd/graphos/pkg/algo"
	"github.com/orneryd/graphos/pkg/storage"
)

// Algorithm names accepted by Traverse.
const (
	AlgorithmBFS        = "bfs"
	AlgorithmShortest   = "shortest_path"
	AlgorithmComponents = "connected_components"
	AlgorithmMST        = "minimum_spanning_tree"
	AlgorithmPageRank   = "pagerank"
)

// ErrUnknownAlgorithm is returned by Traverse for an unrecognized name.
var ErrUnknownAlgorithm = fmt.Errorf("unknown algorithm")

// TraverseParams parameterizes Traverse. Only the fields the selected
// algorithm consumes are read.
type TraverseParams struct {
	// Start roots BFS and is the source of a shortest-path search.
	Start storage.NodeID `json:"start,omitempty"`

	// Target ends a shortest-path search.
	Target storage.NodeID `json:"target,omitempty"`

	// Depth bounds BFS. Default 1.
	Depth int `json:"depth,omitempty"`

	// Options is the common algorithm option set.
	Options algo.Options `json:"options"`

	// Iterations and Damping parameterize PageRank (defaults 20, 0.85).
	Iterations int     `json:"iterations,omitempty"`
	Damping    float64 `json:"damping,omitempty"`
}

// BFS traverses breadth-first from start; see algo.BFS. With an access
// context the visited set is filtered to readable nodes.
func (db *DB) BFS(ctx context.Context, start storage.NodeID, depth int, options algo.Options, opts ...CallOption) ([]*storage.Node, error) {
	nodes, err := algo.BFS(ctx, db.engine, start, depth, options)
	if err != nil {
		return nil, err
	}
	return db.filterNodes(nodes, opts), nil
}

// ShortestPath finds the minimum-weight path between two nodes; see
// algo.ShortestPath.
func (db *DB) ShortestPath(ctx context.Context, source, target storage.NodeID, options algo.Options) (*algo.PathResult, error) {
	return algo.ShortestPath(ctx, db.engine, source, target, options)
}

// ConnectedComponents partitions the vertex set over the undirected
// projection; see algo.ConnectedComponents.
func (db *DB) ConnectedComponents(ctx context.Context, options algo.Options) ([][]*storage.Node, error) {
	return algo.ConnectedComponents(ctx, db.engine, options)
}

// MinimumSpanningTree computes a Kruskal MST over the undirected
// projection; see algo.MinimumSpanningTree.
func (db *DB) MinimumSpanningTree(ctx context.Context, options algo.Options) (*algo.MSTResult, error) {
	return algo.MinimumSpanningTree(ctx, db.engine, options)
}

// PageRank computes node ranks; see algo.PageRank.
func (db *DB) PageRank(ctx context.Context, options algo.PageRankOptions) (map[storage.NodeID]float64, error) {
	return algo.PageRank(ctx, db.engine, options)
}

// Traverse dispatches to the named algorithm, for wire adapters that carry
// the algorithm as data. Typed callers should use the direct methods.
func (db *DB) Traverse(ctx context.Context, algorithm string, params TraverseParams, opts ...CallOption) (any, error) {
	switch algorithm {
	case AlgorithmBFS:
		depth := params.Depth
		if depth == 0 {
			depth = 1
		}
		return db.BFS(ctx, params.Start, depth, params.Options, opts...)
	case AlgorithmShortest:
		return db.ShortestPath(ctx, params.Start, params.Target, params.Options)
	case AlgorithmComponents:
		return db.ConnectedComponents(ctx, params.Options)
	case AlgorithmMST:
		return db.MinimumSpanningTree(ctx, params.Options)
	case AlgorithmPageRank:
		return db.PageRank(ctx, algo.PageRankOptions{
			Options:    params.Options,
			Iterations: params.Iterations,
			Damping:    params.Damping,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
}
