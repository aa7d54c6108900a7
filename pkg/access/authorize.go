package access

import (
	"github.com/orneryd/graphos/pkg/storage"
)

// Authorizer binds the controller to one access context, producing the
// hook the transaction engine consults before every operation. The hook
// reads through the snapshot view the engine hands it, so the decision and
// the gated operation see the same state.
func (c *Controller) Authorizer(actx Context) storage.Authorizer {
	return &boundAuthorizer{ctrl: c, actx: actx}
}

type boundAuthorizer struct {
	ctrl *Controller
	actx Context
}

// AuthorizeOperation maps a graph operation to the permission check of the
// policy:
//
//   - create node: write on "graph:<graph_id>"
//   - update/delete node: write on the node's id
//   - create edge: write on the source id AND read on the target id
//   - update/delete edge: write on the edge's id
//   - noop: always allowed
//   - any other shape: denied
//
// Mutating a protected entity additionally requires admin on the same
// resource; no plain write grant ever reaches the access subgraph.
func (a *boundAuthorizer) AuthorizeOperation(op *storage.Operation, view storage.Reader) error {
	if a.actx.ActorID == "" || a.actx.GraphID == "" {
		return ErrMissingActorOrGraph
	}
	if op.Action == storage.ActionNoop {
		return nil
	}

	actor := a.actx.ActorID
	deny := func() error {
		return &storage.UnauthorizedError{Op: op}
	}
	require := func(scopeID string, ops ...Operation) error {
		for _, required := range ops {
			if !canThrough(view, actor, scopeID, required) {
				return deny()
			}
		}
		return nil
	}

	switch {
	case op.Action == storage.ActionCreate && op.Kind == storage.KindNode:
		if op.Node == nil {
			return deny()
		}
		required := []Operation{OpWrite}
		if op.Node.Protected {
			required = append(required, OpAdmin)
		}
		return require(GraphScope(a.actx.GraphID), required...)

	case op.Action == storage.ActionCreate && op.Kind == storage.KindEdge:
		if op.Edge == nil {
			return deny()
		}
		required := []Operation{OpWrite}
		if op.Edge.Protected {
			required = append(required, OpAdmin)
		}
		if protectedNode(view, op.Edge.Source) || protectedNode(view, op.Edge.Target) {
			required = append(required, OpAdmin)
		}
		if err := require(string(op.Edge.Source), required...); err != nil {
			return err
		}
		return require(string(op.Edge.Target), OpRead)

	case (op.Action == storage.ActionUpdate || op.Action == storage.ActionDelete) && op.Kind == storage.KindNode:
		required := []Operation{OpWrite}
		if node, err := view.GetNode(storage.NodeID(op.ID)); err == nil && node.Protected {
			required = append(required, OpAdmin)
		}
		return require(op.ID, required...)

	case (op.Action == storage.ActionUpdate || op.Action == storage.ActionDelete) && op.Kind == storage.KindEdge:
		required := []Operation{OpWrite}
		if edge, err := view.GetEdge(storage.EdgeID(op.ID)); err == nil && edge.Protected {
			required = append(required, OpAdmin)
		}
		return require(op.ID, required...)
	}

	// Unknown shape: deny.
	return deny()
}

func protectedNode(view storage.Reader, id storage.NodeID) bool {
	node, err := view.GetNode(id)
	return err == nil && node.Protected
}

// FilterResults partitions a result set into nodes, edges, and other
// elements, keeps only the entities the actor may read, and preserves the
// relative order of the survivors. Elements that are neither nodes nor
// edges pass through: they carry no id to check a permission against.
//
// An incomplete context filters everything but the pass-through elements.
func (c *Controller) FilterResults(results []any, actx Context) []any {
	filtered := make([]any, 0, len(results))
	for _, item := range results {
		switch entity := item.(type) {
		case *storage.Node:
			if c.mayRead(actx, string(entity.ID)) {
				filtered = append(filtered, item)
			}
		case *storage.Edge:
			if c.mayRead(actx, string(entity.ID)) {
				filtered = append(filtered, item)
			}
		default:
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// filterNodes applies FilterResults' read rule to a node slice.
func (c *Controller) filterNodes(nodes []*storage.Node, actx Context) []*storage.Node {
	kept := make([]*storage.Node, 0, len(nodes))
	for _, node := range nodes {
		if c.mayRead(actx, string(node.ID)) {
			kept = append(kept, node)
		}
	}
	return kept
}

// filterEdges applies FilterResults' read rule to an edge slice.
func (c *Controller) filterEdges(edges []*storage.Edge, actx Context) []*storage.Edge {
	kept := make([]*storage.Edge, 0, len(edges))
	for _, edge := range edges {
		if c.mayRead(actx, string(edge.ID)) {
			kept = append(kept, edge)
		}
	}
	return kept
}

func (c *Controller) mayRead(actx Context, resourceID string) bool {
	if actx.ActorID == "" || actx.GraphID == "" {
		return false
	}
	return c.Can(actx.ActorID, resourceID, OpRead)
}
