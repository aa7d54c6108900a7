package algo

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/orneryd/graphos/pkg/storage"
)

// PathResult is a single-pair shortest path: the nodes along it in order
// and the summed edge weight.
type PathResult struct {
	Path     []*storage.Node `json:"path"`
	Distance float64         `json:"distance"`
}

// ShortestPath finds the minimum-weight path from source to target by
// Dijkstra's algorithm.
//
// Edge weight resolution follows EdgeWeight. Negative weights are
// unsupported and return ErrInvalidWeight. When several paths tie, the
// first-discovered wins (discovery follows edge-id order, so the result is
// deterministic). An unreachable target returns ErrNoPath.
func ShortestPath(ctx context.Context, engine storage.Engine, source, target storage.NodeID, opts Options) (*PathResult, error) {
	opts = opts.normalize()

	if _, err := engine.GetNode(source); err != nil {
		return nil, fmt.Errorf("source node %s: %w", source, ErrUnknownNode)
	}
	if _, err := engine.GetNode(target); err != nil {
		return nil, fmt.Errorf("target node %s: %w", target, ErrUnknownNode)
	}

	dist := map[storage.NodeID]float64{source: 0}
	prev := make(map[storage.NodeID]storage.NodeID)
	done := make(map[storage.NodeID]struct{})

	pq := &nodeQueue{}
	heap.Init(pq)
	heap.Push(pq, nodeItem{id: source, priority: 0})

	for pq.Len() > 0 {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		item := heap.Pop(pq).(nodeItem)
		if _, settled := done[item.id]; settled {
			continue
		}
		done[item.id] = struct{}{}

		if item.id == target {
			break
		}

		neighbors, err := expand(engine, item.id, opts)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			w := EdgeWeight(nb.edge, opts)
			if w < 0 {
				return nil, fmt.Errorf("edge %s weight %v: %w", nb.edge.ID, w, ErrInvalidWeight)
			}
			candidate := dist[item.id] + w
			// Strict improvement only: on ties the first-discovered
			// predecessor wins.
			if best, seen := dist[nb.node]; !seen || candidate < best {
				dist[nb.node] = candidate
				prev[nb.node] = item.id
				heap.Push(pq, nodeItem{id: nb.node, priority: candidate})
			}
		}
	}

	if _, reached := done[target]; !reached {
		return nil, ErrNoPath
	}

	// Reconstruct by walking predecessors back to the source.
	ids := []storage.NodeID{target}
	for ids[len(ids)-1] != source {
		ids = append(ids, prev[ids[len(ids)-1]])
	}

	path := make([]*storage.Node, len(ids))
	for i, id := range ids {
		node, err := engine.GetNode(id)
		if err != nil {
			return nil, err
		}
		path[len(ids)-1-i] = node
	}

	return &PathResult{Path: path, Distance: dist[target]}, nil
}

// nodeItem is one entry of the Dijkstra frontier.
type nodeItem struct {
	id       storage.NodeID
	priority float64
}

// nodeQueue is a min-heap of frontier entries, id-ordered on equal
// priority for determinism.
type nodeQueue []nodeItem

func (q nodeQueue) Len() int { return len(q) }

func (q nodeQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].id < q[j].id
}

func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(nodeItem)) }

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
