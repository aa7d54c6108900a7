package algo

import (
	"context"
	"sort"

	"github.com/orneryd/graphos/pkg/storage"
)

// PageRankOptions configures PageRank on top of the common option set.
type PageRankOptions struct {
	Options

	// Iterations bounds the power iteration. Default 20.
	Iterations int

	// Damping is the damping factor. Default 0.85.
	Damping float64
}

// DefaultPageRankOptions returns the documented defaults.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Options: DefaultOptions(), Iterations: 20, Damping: 0.85}
}

// PageRank computes a rank for every node by power iteration.
//
// Rank flows along outgoing edges. In weighted mode (opts.Weighted) edge
// weights are min-max normalised first and each node distributes its rank
// proportionally to its outgoing normalised weights; an all-equal weight
// set degenerates to the unweighted uniform split. An empty graph yields
// an empty mapping.
//
// The context is honoured between iterations.
func PageRank(ctx context.Context, engine storage.Engine, opts PageRankOptions) (map[storage.NodeID]float64, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = 20
	}
	if opts.Damping == 0 {
		opts.Damping = 0.85
	}
	opts.Options = opts.Options.normalize()

	nodes, err := engine.AllNodes()
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return map[storage.NodeID]float64{}, nil
	}

	edges, err := engine.IterateEdges(storage.EdgeFilter{Key: opts.EdgeKey})
	if err != nil {
		return nil, err
	}

	// Per-source outgoing shares. Unweighted: each edge carries an equal
	// share. Weighted: shares follow min-max normalised weights.
	type outEdge struct {
		target storage.NodeID
		share  float64
	}
	outgoing := make(map[storage.NodeID][]outEdge, len(nodes))

	if opts.Weighted {
		weights := make([]float64, len(edges))
		for i, e := range edges {
			weights[i] = EdgeWeight(e, opts.Options)
		}
		normalised := NormalizeWeights(weights)

		totals := make(map[storage.NodeID]float64)
		for i, e := range edges {
			totals[e.Source] += normalised[i]
		}
		for i, e := range edges {
			share := 0.0
			if total := totals[e.Source]; total > 0 {
				share = normalised[i] / total
			} else if deg := countOutgoing(edges, e.Source); deg > 0 {
				// Degenerate all-equal set: fall back to a uniform split.
				share = 1.0 / float64(deg)
			}
			outgoing[e.Source] = append(outgoing[e.Source], outEdge{target: e.Target, share: share})
		}
	} else {
		degree := make(map[storage.NodeID]int)
		for _, e := range edges {
			degree[e.Source]++
		}
		for _, e := range edges {
			outgoing[e.Source] = append(outgoing[e.Source], outEdge{
				target: e.Target,
				share:  1.0 / float64(degree[e.Source]),
			})
		}
	}

	ids := make([]storage.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	n := float64(len(ids))
	ranks := make(map[storage.NodeID]float64, len(ids))
	for _, id := range ids {
		ranks[id] = 1.0 / n
	}

	base := (1 - opts.Damping) / n
	for iter := 0; iter < opts.Iterations; iter++ {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		next := make(map[storage.NodeID]float64, len(ids))
		for _, id := range ids {
			next[id] = base
		}
		dangling := 0.0
		for _, id := range ids {
			out := outgoing[id]
			if len(out) == 0 {
				dangling += ranks[id]
				continue
			}
			for _, oe := range out {
				next[oe.target] += opts.Damping * ranks[id] * oe.share
			}
		}
		// Rank of dangling nodes redistributes uniformly.
		if dangling > 0 {
			spread := opts.Damping * dangling / n
			for _, id := range ids {
				next[id] += spread
			}
		}
		ranks = next
	}

	return ranks, nil
}

func countOutgoing(edges []*storage.Edge, source storage.NodeID) int {
	count := 0
	for _, e := range edges {
		if e.Source == source {
			count++
		}
	}
	return count
}
