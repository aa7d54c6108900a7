package graphos

import (
	"context"
	"errors"
	"fmt"

	"github.com/orneryd/graphos/pkg/algo"
	"github.com/orneryd/graphos/pkg/storage"
)

// QueryParams is a structured read: a breadth-first expansion from a start
// node with optional filters.
//
// Zero values mean: direction outgoing, no edge-key filter, no data
// filter, depth 1, limit 100.
type QueryParams struct {
	// StartNodeID roots the traversal. Unknown ids return ErrNotFound.
	StartNodeID storage.NodeID `json:"start_node_id"`

	// Direction selects which edges to follow. Default outgoing.
	Direction algo.Direction `json:"direction,omitempty"`

	// EdgeKey restricts traversal to edges carrying this key.
	EdgeKey string `json:"edge_key,omitempty"`

	// Data keeps only visited nodes whose data map contains each entry.
	// Traversal still expands through non-matching nodes.
	Data map[string]any `json:"data,omitempty"`

	// Depth bounds the expansion. Default 1.
	Depth int `json:"depth,omitempty"`

	// Limit truncates the result. Default 100.
	Limit int `json:"limit,omitempty"`
}

// Query runs a structured read: breadth-first from the start node,
// returning the visited nodes in BFS discovery order (start node first),
// truncated to the limit.
//
// With an access context attached, the result set is filtered to the nodes
// the actor may read, preserving order.
func (db *DB) Query(ctx context.Context, params QueryParams, opts ...CallOption) ([]*storage.Node, error) {
	if params.Depth == 0 {
		params.Depth = 1
	}
	if params.Limit == 0 {
		params.Limit = 100
	}
	if params.Direction == "" {
		params.Direction = algo.DirectionOutgoing
	}

	visited, err := algo.BFS(ctx, db.engine, params.StartNodeID, params.Depth, algo.Options{
		Direction: params.Direction,
		EdgeKey:   params.EdgeKey,
	})
	if err != nil {
		if errors.Is(err, algo.ErrUnknownNode) {
			return nil, fmt.Errorf("query start %s: %w", params.StartNodeID, storage.ErrNotFound)
		}
		return nil, err
	}

	matched := visited
	if len(params.Data) > 0 {
		matched = matched[:0:0]
		for _, node := range visited {
			if storage.DataMatches(node.Data, params.Data) {
				matched = append(matched, node)
			}
		}
	}

	matched = db.filterNodes(matched, opts)
	if len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return matched, nil
}
