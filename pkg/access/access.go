// Package access implements GraphOS's graph-expressed access-control policy.
//
// The policy is itself a subgraph stored alongside user data: a protected
// root node, actor nodes, scope nodes, and permission edges from actors to
// scopes. Because the policy lives in the same store it is covered by the
// same lock, and authorization decisions are evaluated against the exact
// snapshot the operations they gate will read or modify.
//
// Reserved entities (distinguished by key in the ordinary entity space):
//   - the root node "access:root", protected
//   - actor nodes (key "access:actor") joined to the root by
//     "access:actor_def" edges
//   - scope nodes (key "access:scope") joined to the root by
//     "access:scope_def" edges
//   - permission edges (key "access:permission") from actor to scope,
//     carrying a data.operations set drawn from {read, write, execute,
//     admin}
//
// Scope ids are patterns: exact match, a trailing "*" wildcard
// ("filesystem:*" matches "filesystem:/tmp/x"), or the single literal "*"
// matching anything.
//
// Example:
//
//	ctrl := access.NewController(engine, "g1")
//	ctrl.Bootstrap(ctx)
//	ctrl.DefineActor(ctx, "user:alice", nil)
//	ctrl.DefineScope(ctx, "filesystem:*", nil)
//	ctrl.GrantPermission(ctx, "user:alice", "filesystem:*",
//		[]access.Operation{access.OpRead, access.OpWrite})
//
//	ctrl.Can("user:alice", "filesystem:/tmp/x", access.OpRead) // true
//	ctrl.Can("user:alice", "network:http", access.OpRead)      // false
//
// ELI12:
//
// Think of the policy like hall passes pinned to a corkboard that lives in
// the same classroom it protects:
//   - Actors are the students' name tags
//   - Scopes are the rooms ("the library", "any room in the gym wing")
//   - Permission edges are the passes: "Alice may READ in the library"
//
// The corkboard itself is protected - only someone with an ADMIN pass can
// move the pins. And because the passes hang in the room they guard, the
// hall monitor always checks the same board the student is walking into.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/graphos/pkg/storage"
)

// Reserved ids and keys of the access-control subgraph. The "access:" key
// namespace is reserved; this package is the only one that emits
// protected entities.
const (
	RootID        = "access:root"
	KeyRoot       = "access:root"
	KeyActor      = "access:actor"
	KeyScope      = "access:scope"
	KeyActorDef   = "access:actor_def"
	KeyScopeDef   = "access:scope_def"
	KeyPermission = "access:permission"

	// operationsProperty is the permission edge data key holding the
	// granted operation set.
	operationsProperty = "operations"
)

// Operation is one grantable operation kind.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpExecute Operation = "execute"
	OpAdmin   Operation = "admin"
)

// validOperations is the full grantable set.
var validOperations = map[Operation]struct{}{
	OpRead: {}, OpWrite: {}, OpExecute: {}, OpAdmin: {},
}

// Access-control errors.
var (
	ErrMissingActorOrGraph = errors.New("access context missing actor or graph")
	ErrActorNotFound       = errors.New("actor not found")
	ErrScopeNotFound       = errors.New("scope not found")
	ErrNotBootstrapped     = errors.New("access control not initialized")
)

// InvalidOperationsError reports a permission grant that named unknown
// operation kinds.
type InvalidOperationsError struct {
	Set []string
}

func (e *InvalidOperationsError) Error() string {
	return fmt.Sprintf("invalid operations: %v", e.Set)
}

// Context identifies the principal on whose behalf a call executes.
// Both fields are required; an incomplete context is rejected with
// ErrMissingActorOrGraph.
type Context struct {
	ActorID string
	GraphID string
}

// GraphScope returns the scope id guarding graph-level operations.
func GraphScope(graphID string) string { return "graph:" + graphID }

// Controller manages one graph's access-control subgraph and answers
// authorization questions against it.
type Controller struct {
	engine  *storage.MemoryEngine
	graphID string
}

// NewController binds a controller to a graph's engine. Call Bootstrap
// before defining actors or scopes.
func NewController(engine *storage.MemoryEngine, graphID string) *Controller {
	return &Controller{engine: engine, graphID: graphID}
}

// Bootstrap plants the protected access-control root node. Idempotent.
//
// Setup calls run without an authorizer attached: attaching one would
// deadlock bootstrapping (nobody holds admin before the root exists).
func (c *Controller) Bootstrap(ctx context.Context) error {
	root := storage.NewNode(map[string]any{"protected": true},
		storage.WithNodeID(RootID), storage.WithNodeKey(KeyRoot))
	root.Protected = true

	tx := c.engine.BeginTransaction()
	if err := tx.CreateNode(root, storage.OperationOptions{OnConflict: storage.ConflictIgnore}); err != nil {
		return err
	}
	_, err := tx.Commit(ctx)
	return err
}

// DefineActor creates an actor node and joins it to the root with an
// "access:actor_def" edge.
func (c *Controller) DefineActor(ctx context.Context, actorID string, attributes map[string]any) (*storage.Node, error) {
	if actorID == "" {
		return nil, storage.ErrInvalidID
	}
	if err := c.requireRoot(); err != nil {
		return nil, err
	}

	actor := storage.NewNode(attributes,
		storage.WithNodeID(storage.NodeID(actorID)), storage.WithNodeKey(KeyActor))
	actor.Protected = true

	def := storage.NewEdge(actor.ID, RootID, nil, storage.WithEdgeKey(KeyActorDef))
	def.Protected = true

	tx := c.engine.BeginTransaction()
	if err := tx.CreateNode(actor); err != nil {
		return nil, err
	}
	if err := tx.CreateEdge(def); err != nil {
		return nil, err
	}
	results, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return results[0].Node, nil
}

// DefineScope creates a scope node and joins it to the root with an
// "access:scope_def" edge. The scope id may be a pattern (trailing "*").
func (c *Controller) DefineScope(ctx context.Context, scopeID string, attributes map[string]any) (*storage.Node, error) {
	if scopeID == "" {
		return nil, storage.ErrInvalidID
	}
	if err := c.requireRoot(); err != nil {
		return nil, err
	}

	scope := storage.NewNode(attributes,
		storage.WithNodeID(storage.NodeID(scopeID)), storage.WithNodeKey(KeyScope))
	scope.Protected = true

	def := storage.NewEdge(scope.ID, RootID, nil, storage.WithEdgeKey(KeyScopeDef))
	def.Protected = true

	tx := c.engine.BeginTransaction()
	if err := tx.CreateNode(scope); err != nil {
		return nil, err
	}
	if err := tx.CreateEdge(def); err != nil {
		return nil, err
	}
	results, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return results[0].Node, nil
}

// GrantPermission creates a permission edge from actor to scope carrying
// the requested operation set. Unknown operation kinds are rejected with
// InvalidOperationsError; the stored set is the intersection with
// {read, write, execute, admin}.
func (c *Controller) GrantPermission(ctx context.Context, actorID, scopeID string, operations []Operation) (*storage.Edge, error) {
	var invalid []string
	granted := make([]string, 0, len(operations))
	seen := make(map[Operation]struct{})
	for _, op := range operations {
		if _, ok := validOperations[op]; !ok {
			invalid = append(invalid, string(op))
			continue
		}
		if _, dup := seen[op]; dup {
			continue
		}
		seen[op] = struct{}{}
		granted = append(granted, string(op))
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, &InvalidOperationsError{Set: invalid}
	}

	if _, err := c.engine.GetNode(storage.NodeID(actorID)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrActorNotFound, actorID)
	}
	if _, err := c.engine.GetNode(storage.NodeID(scopeID)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, scopeID)
	}

	perm := storage.NewEdge(storage.NodeID(actorID), storage.NodeID(scopeID),
		map[string]any{operationsProperty: granted},
		storage.WithEdgeKey(KeyPermission))
	perm.Protected = true

	tx := c.engine.BeginTransaction()
	if err := tx.CreateEdge(perm); err != nil {
		return nil, err
	}
	results, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	return results[0].Edge, nil
}

// RevokePermission removes every permission edge from actor to scope.
func (c *Controller) RevokePermission(ctx context.Context, actorID, scopeID string) error {
	perms, err := c.engine.IterateEdges(storage.EdgeFilter{
		Source: storage.NodeID(actorID),
		Target: storage.NodeID(scopeID),
		Key:    KeyPermission,
	})
	if err != nil {
		return err
	}
	if len(perms) == 0 {
		return storage.ErrNotFound
	}

	tx := c.engine.BeginTransaction()
	for _, perm := range perms {
		if err := tx.DeleteEdge(perm.ID); err != nil {
			return err
		}
	}
	_, err = tx.Commit(ctx)
	return err
}

// Can reports whether the actor holds a permission whose scope pattern
// matches scopeID and whose operation set contains op.
func (c *Controller) Can(actorID, scopeID string, op Operation) bool {
	return canThrough(c.engine, actorID, scopeID, op)
}

// ListActors returns the actor nodes defined on this graph, id-sorted.
func (c *Controller) ListActors() ([]*storage.Node, error) {
	return c.listDefined(KeyActorDef)
}

// ListScopes returns the scope nodes defined on this graph, id-sorted.
func (c *Controller) ListScopes() ([]*storage.Node, error) {
	return c.listDefined(KeyScopeDef)
}

// ListPermissions returns the actor's permission edges, id-sorted.
func (c *Controller) ListPermissions(actorID string) ([]*storage.Edge, error) {
	return c.engine.IterateEdges(storage.EdgeFilter{
		Source: storage.NodeID(actorID),
		Key:    KeyPermission,
	})
}

func (c *Controller) listDefined(defKey string) ([]*storage.Node, error) {
	defs, err := c.engine.IterateEdges(storage.EdgeFilter{Target: RootID, Key: defKey})
	if err != nil {
		return nil, err
	}
	nodes := make([]*storage.Node, 0, len(defs))
	for _, def := range defs {
		node, err := c.engine.GetNode(def.Source)
		if err != nil {
			continue // definition edge outlived its node; skip
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (c *Controller) requireRoot() error {
	if _, err := c.engine.GetNode(RootID); err != nil {
		return ErrNotBootstrapped
	}
	return nil
}

// ScopeMatches reports whether a permission's scope pattern matches a
// resource scope id. Matching rules: exact equality; the single literal
// "*" matches any; a trailing "*" matches by prefix.
func ScopeMatches(pattern, scopeID string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(scopeID, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == scopeID
}

// canThrough answers a permission question through any reader - the live
// engine for public checks, or the commit-locked snapshot view during
// authorization.
func canThrough(r storage.Reader, actorID, scopeID string, op Operation) bool {
	perms, err := r.IterateEdges(storage.EdgeFilter{
		Source: storage.NodeID(actorID),
		Key:    KeyPermission,
	})
	if err != nil {
		return false
	}
	for _, perm := range perms {
		if !ScopeMatches(string(perm.Target), scopeID) {
			continue
		}
		if operationSet(perm).contains(op) {
			return true
		}
	}
	return false
}

// opSet is a permission edge's granted operation set.
type opSet map[Operation]struct{}

func (s opSet) contains(op Operation) bool {
	_, ok := s[op]
	return ok
}

func operationSet(perm *storage.Edge) opSet {
	set := make(opSet)
	raw, ok := perm.Data[operationsProperty]
	if !ok {
		return set
	}
	switch ops := raw.(type) {
	case []string:
		for _, op := range ops {
			set[Operation(op)] = struct{}{}
		}
	case []any:
		for _, op := range ops {
			if s, ok := op.(string); ok {
				set[Operation(s)] = struct{}{}
			}
		}
	case []Operation:
		for _, op := range ops {
			set[op] = struct{}{}
		}
	}
	return set
}
