package algo

import (
	"context"

	"github.com/orneryd/graphos/pkg/storage"
)

// ConnectedComponents partitions the vertex set by BFS over the undirected
// projection: edge direction is ignored irrespective of the caller's
// direction option.
//
// Component ordering reflects the discovery order of each component's first
// node; within a component, nodes appear in BFS discovery order.
func ConnectedComponents(ctx context.Context, engine storage.Engine, opts Options) ([][]*storage.Node, error) {
	opts = opts.normalize()
	opts.Direction = DirectionBoth

	nodes, err := engine.AllNodes()
	if err != nil {
		return nil, err
	}

	visited := make(map[storage.NodeID]struct{}, len(nodes))
	byID := make(map[storage.NodeID]*storage.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var components [][]*storage.Node
	for _, seed := range nodes {
		if _, seen := visited[seed.ID]; seen {
			continue
		}

		component := []*storage.Node{seed}
		visited[seed.ID] = struct{}{}
		frontier := []storage.NodeID{seed.ID}

		for len(frontier) > 0 {
			if err := checkCtx(ctx); err != nil {
				return nil, err
			}

			var next []storage.NodeID
			for _, id := range frontier {
				neighbors, err := expand(engine, id, opts)
				if err != nil {
					return nil, err
				}
				for _, nb := range neighbors {
					if _, seen := visited[nb.node]; seen {
						continue
					}
					visited[nb.node] = struct{}{}
					component = append(component, byID[nb.node])
					next = append(next, nb.node)
				}
			}
			frontier = next
		}

		components = append(components, component)
	}

	return components, nil
}
