package algo

import (
	"context"
	"fmt"
	"sort"

	"github.com/orneryd/graphos/pkg/storage"
)

// BFS traverses breadth-first from start to the given depth bound and
// returns the visited nodes in discovery order (the start node first).
//
// Neighbor ordering within a level follows edge-id order (see expand);
// this is insertion order only for auto-generated UUIDv7 edge ids, and
// edges with explicitly assigned ids are ordered by id, not by insertion.
// When opts.Weighted is set, neighbors at each level are instead visited
// by edge weight ascending (descending when lower weights are not
// preferred). Ties fall back to edge-id order.
//
// A maxDepth of 0 returns only the start node. An unknown start node
// returns ErrUnknownNode.
func BFS(ctx context.Context, engine storage.Engine, start storage.NodeID, maxDepth int, opts Options) ([]*storage.Node, error) {
	opts = opts.normalize()

	startNode, err := engine.GetNode(start)
	if err != nil {
		return nil, fmt.Errorf("start node %s: %w", start, ErrUnknownNode)
	}

	visited := map[storage.NodeID]struct{}{start: {}}
	order := []*storage.Node{startNode}
	frontier := []storage.NodeID{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		var next []storage.NodeID
		for _, id := range frontier {
			neighbors, err := expand(engine, id, opts)
			if err != nil {
				return nil, err
			}
			if opts.Weighted {
				sortNeighborsByWeight(neighbors, opts)
			}
			for _, nb := range neighbors {
				if _, seen := visited[nb.node]; seen {
					continue
				}
				visited[nb.node] = struct{}{}
				node, err := engine.GetNode(nb.node)
				if err != nil {
					return nil, err
				}
				order = append(order, node)
				next = append(next, nb.node)
			}
		}
		frontier = next
	}

	return order, nil
}

// sortNeighborsByWeight orders neighbors by edge weight, ascending when
// lower weights are preferred, with edge id as the tie-break.
func sortNeighborsByWeight(neighbors []neighbor, opts Options) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		wi := EdgeWeight(neighbors[i].edge, opts)
		wj := EdgeWeight(neighbors[j].edge, opts)
		if wi != wj {
			if opts.PreferHigherWeights {
				return wi > wj
			}
			return wi < wj
		}
		return neighbors[i].edge.ID < neighbors[j].edge.ID
	})
}
