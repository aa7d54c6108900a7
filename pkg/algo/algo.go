// Package algo provides graph traversal and analysis over the storage
// engine contract.
//
// Every algorithm reads through storage.Engine, so any backend that
// satisfies the contract gets BFS, weighted shortest path, connected
// components, minimum spanning tree, and PageRank for free.
//
// All algorithms are deterministic for the same committed state and the
// same options: neighbor expansion is ordered by edge id (UUIDv7 ids sort
// in insertion order), and wherever a tie-break would otherwise be
// arbitrary, id order decides.
//
// Cancellation is cooperative: the context is honoured between BFS frontier
// expansions, between Dijkstra relaxations, and between PageRank
// iterations. Algorithms are CPU-bound and do not yield internally.
package algo

import (
	"context"
	"errors"

	"github.com/orneryd/graphos/pkg/storage"
)

// Algorithm errors.
var (
	ErrNoPath        = errors.New("no path")
	ErrInvalidWeight = errors.New("invalid weight")
	ErrUnknownNode   = errors.New("unknown node")
)

// Direction selects which edges a traversal follows from a node.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Options is the common option set every algorithm accepts.
//
// Zero values mean: direction outgoing, no edge-key filter, weight property
// "weight", default weight 1.0, lower weights preferred.
type Options struct {
	// EdgeKey restricts traversal to edges carrying this key.
	EdgeKey string

	// Direction selects outgoing, incoming, or both. Connected components
	// and MST force DirectionBoth irrespective of the caller.
	Direction Direction

	// Weighted orders BFS neighbors by edge weight instead of insertion
	// order.
	Weighted bool

	// WeightProperty names the data property consulted when the edge's
	// weight field is unset. Default "weight".
	WeightProperty string

	// DefaultWeight is used when neither the weight field nor the data
	// property yields a numeric value. Default 1.0.
	DefaultWeight float64

	// PreferHigherWeights inverts the default preference for lower
	// weights; weighted BFS then visits heavier edges first.
	PreferHigherWeights bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Direction:      DirectionOutgoing,
		WeightProperty: "weight",
		DefaultWeight:  1.0,
	}
}

// normalize fills zero-valued fields with the documented defaults.
func (o Options) normalize() Options {
	if o.Direction == "" {
		o.Direction = DirectionOutgoing
	}
	if o.WeightProperty == "" {
		o.WeightProperty = "weight"
	}
	if o.DefaultWeight == 0 {
		o.DefaultWeight = 1.0
	}
	return o
}

// neighbor is one hop out of a node.
type neighbor struct {
	edge *storage.Edge
	node storage.NodeID
}

// expand returns the neighbors of id honouring direction and edge-key
// filter: outgoing edges first, then incoming edges, each group in edge-id
// order. The engine serves edges sorted by id, so each group reflects
// insertion order for UUIDv7 ids.
func expand(engine storage.Engine, id storage.NodeID, opts Options) ([]neighbor, error) {
	var out []neighbor

	if opts.Direction == DirectionOutgoing || opts.Direction == DirectionBoth {
		edges, err := engine.IterateEdges(storage.EdgeFilter{Source: id, Key: opts.EdgeKey})
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			out = append(out, neighbor{edge: e, node: e.Target})
		}
	}
	if opts.Direction == DirectionIncoming || opts.Direction == DirectionBoth {
		edges, err := engine.IterateEdges(storage.EdgeFilter{Target: id, Key: opts.EdgeKey})
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if opts.Direction == DirectionBoth && e.Source == id && e.Target == id {
				continue // self-loop already seen on the outgoing pass
			}
			out = append(out, neighbor{edge: e, node: e.Source})
		}
	}
	return out, nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
