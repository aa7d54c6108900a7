// Package graphos is the public entry point of the GraphOS core: a runtime
// for programs expressed as a directed, typed property graph.
//
// A DB composes the storage engine, the transaction engine, the traversal
// layer, and the access-control policy behind one façade. Execute, Query,
// GetNode, GetEdge, FindNodesByProperties, BFS and Traverse accept an
// optional access context; calls made without one bypass all checks
// (explicit opt-in, for embedders that do their own authorization).
// Traverse applies the context to BFS only. Rollback, Stats, ShortestPath,
// ConnectedComponents, MinimumSpanningTree and PageRank take no access
// context and run without checks.
//
// Example:
//
//	db, _ := graphos.Open("g1", graphos.DefaultConfig())
//	defer db.Close()
//
//	tx := db.NewTransaction()
//	tx.CreateNode(storage.NewNode(map[string]any{"name": "Alice"},
//		storage.WithNodeID("user:alice")))
//	results, err := db.Execute(ctx, tx)
//
//	nodes, _ := db.Query(ctx, graphos.QueryParams{
//		StartNodeID: "user:alice",
//		Depth:       2,
//	})
package graphos

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/graphos/pkg/access"
	"github.com/orneryd/graphos/pkg/events"
	"github.com/orneryd/graphos/pkg/storage"
)

// Config controls how a graph is initialized.
type Config struct {
	// Name is the human-readable graph name. Defaults to the id passed
	// to Open.
	Name string

	// AccessControl plants the access-control subgraph at init and makes
	// the policy available to calls carrying an access context.
	AccessControl bool

	// Bus receives created/updated/deleted events for each successful
	// transaction operation, in commit order. Defaults to the no-op bus.
	Bus events.Bus
}

// DefaultConfig returns the default configuration: access control enabled,
// no-op event bus.
func DefaultConfig() *Config {
	return &Config{AccessControl: true}
}

// DB is one graph's store façade. All methods are safe for concurrent use;
// writes on the same graph serialize through the engine's write lock,
// reads proceed concurrently against the last committed state.
type DB struct {
	graph  storage.Graph
	engine *storage.MemoryEngine
	ctrl   *access.Controller
	bus    events.Bus

	mu     sync.Mutex
	closed bool
}

// Registry of open graphs. Open is idempotent per name; cross-graph
// operations do not contend.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*DB)
	openGroup  singleflight.Group
)

// Open initializes (or returns) the graph registered under id.
//
// Open is idempotent: if a store for this id exists, the existing handle
// is returned and the config is ignored. Concurrent opens of the same id
// coalesce into one initialization.
func Open(id string, config *Config) (*DB, error) {
	if id == "" {
		return nil, storage.ErrInvalidID
	}
	if config == nil {
		config = DefaultConfig()
	}

	v, err, _ := openGroup.Do(id, func() (any, error) {
		registryMu.Lock()
		if db, ok := registry[id]; ok {
			registryMu.Unlock()
			return db, nil
		}
		registryMu.Unlock()

		db, err := newDB(id, config)
		if err != nil {
			return nil, err
		}

		registryMu.Lock()
		registry[id] = db
		registryMu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DB), nil
}

func newDB(id string, config *Config) (*DB, error) {
	name := config.Name
	if name == "" {
		name = id
	}

	engine := storage.NewMemoryEngine()
	db := &DB{
		graph:  storage.Graph{ID: id, Name: name},
		engine: engine,
		bus:    config.Bus,
	}
	if db.bus == nil {
		db.bus = events.NewNoopBus()
	}

	if config.AccessControl {
		db.ctrl = access.NewController(engine, id)
		if err := db.ctrl.Bootstrap(context.Background()); err != nil {
			engine.Close()
			return nil, fmt.Errorf("bootstrap access control: %w", err)
		}
	}
	return db, nil
}

// ID returns the graph id.
func (db *DB) ID() string { return db.graph.ID }

// Name returns the graph name.
func (db *DB) Name() string { return db.graph.Name }

// Engine exposes the backend contract, for algorithm callers and tests.
func (db *DB) Engine() storage.Engine { return db.engine }

// Access returns the access controller, or nil when access control is
// disabled for this graph.
func (db *DB) Access() *access.Controller { return db.ctrl }

// Schema returns the schema manager of the underlying engine.
func (db *DB) Schema() *storage.SchemaManager { return db.engine.GetSchema() }

// CallOption carries per-call settings for façade methods.
type CallOption func(*callSettings)

type callSettings struct {
	actx *access.Context
}

// WithActor attaches an access context for the given actor on this graph.
// The graph id of the context is filled in by the receiving DB.
func WithActor(actorID string) CallOption {
	return func(s *callSettings) {
		s.actx = &access.Context{ActorID: actorID}
	}
}

// WithAccessContext attaches a fully-specified access context.
func WithAccessContext(actx access.Context) CallOption {
	return func(s *callSettings) {
		s.actx = &actx
	}
}

func (db *DB) settings(opts []CallOption) callSettings {
	var s callSettings
	for _, opt := range opts {
		opt(&s)
	}
	if s.actx != nil && s.actx.GraphID == "" {
		s.actx.GraphID = db.graph.ID
	}
	return s
}

// authorizer resolves the per-call authorizer: nil (bypass) when no access
// context is attached or access control is disabled.
func (db *DB) authorizer(s callSettings) storage.Authorizer {
	if s.actx == nil || db.ctrl == nil {
		return nil
	}
	return db.ctrl.Authorizer(*s.actx)
}

// NewTransaction creates an empty transaction against this graph.
func (db *DB) NewTransaction() *storage.Transaction {
	return db.engine.BeginTransaction()
}

// Execute commits the transaction, applying its operations atomically.
//
// When an access context is attached, every operation is authorized
// against the same snapshot the commit mutates; the first denial aborts
// with no mutation. On success, one event per operation is broadcast in
// commit order.
func (db *DB) Execute(ctx context.Context, tx *storage.Transaction, opts ...CallOption) ([]storage.Result, error) {
	s := db.settings(opts)
	tx.SetAuthorizer(db.authorizer(s))

	results, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}

	db.publish(results)
	return results, nil
}

// Rollback undoes a committed transaction using its inverse log. Rolling
// back twice is a no-op.
func (db *DB) Rollback(ctx context.Context, tx *storage.Transaction) error {
	return tx.Rollback(ctx)
}

// GetNode fetches one node. With an access context attached the actor
// needs read on the node's id; a denial returns UnauthorizedError.
func (db *DB) GetNode(ctx context.Context, id storage.NodeID, opts ...CallOption) (*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node, err := db.engine.GetNode(id)
	if err != nil {
		return nil, err
	}

	s := db.settings(opts)
	if s.actx != nil && db.ctrl != nil {
		if s.actx.ActorID == "" || s.actx.GraphID == "" {
			return nil, access.ErrMissingActorOrGraph
		}
		if !db.ctrl.Can(s.actx.ActorID, string(id), access.OpRead) {
			return nil, &storage.UnauthorizedError{}
		}
	}
	return node, nil
}

// GetEdge fetches one edge, under the same read rule as GetNode.
func (db *DB) GetEdge(ctx context.Context, id storage.EdgeID, opts ...CallOption) (*storage.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edge, err := db.engine.GetEdge(id)
	if err != nil {
		return nil, err
	}

	s := db.settings(opts)
	if s.actx != nil && db.ctrl != nil {
		if s.actx.ActorID == "" || s.actx.GraphID == "" {
			return nil, access.ErrMissingActorOrGraph
		}
		if !db.ctrl.Can(s.actx.ActorID, string(id), access.OpRead) {
			return nil, &storage.UnauthorizedError{}
		}
	}
	return edge, nil
}

// FindNodesByProperties returns all nodes whose data map contains each
// entry of the filter, id-sorted. With an access context the result set is
// filtered to the nodes the actor may read, preserving order.
func (db *DB) FindNodesByProperties(ctx context.Context, filter map[string]any, opts ...CallOption) ([]*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := db.engine.FindNodesByData(filter)
	if err != nil {
		return nil, err
	}
	return db.filterNodes(nodes, opts), nil
}

// filterNodes applies the access result filter when a context is attached.
func (db *DB) filterNodes(nodes []*storage.Node, opts []CallOption) []*storage.Node {
	s := db.settings(opts)
	if s.actx == nil || db.ctrl == nil {
		return nodes
	}
	results := make([]any, len(nodes))
	for i, n := range nodes {
		results[i] = n
	}
	kept := db.ctrl.FilterResults(results, *s.actx)
	filtered := make([]*storage.Node, 0, len(kept))
	for _, item := range kept {
		filtered = append(filtered, item.(*storage.Node))
	}
	return filtered
}

// Stats summarizes the graph population.
type Stats struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

// Stats returns current node and edge counts.
func (db *DB) Stats() (Stats, error) {
	nodes, err := db.engine.NodeCount()
	if err != nil {
		return Stats{}, err
	}
	edges, err := db.engine.EdgeCount()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Nodes: nodes, Edges: edges}, nil
}

// Close tears down the graph's backend state and removes it from the
// registry. Idempotent; the backend is released on every exit path.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	registryMu.Lock()
	if registry[db.graph.ID] == db {
		delete(registry, db.graph.ID)
	}
	registryMu.Unlock()

	log.Printf("[graphos] closing graph %s", db.graph.ID)
	return db.engine.Close()
}

// publish broadcasts one event per committed operation, in commit order.
func (db *DB) publish(results []storage.Result) {
	for _, res := range results {
		var action string
		switch res.Action {
		case storage.ActionCreate:
			action = "created"
		case storage.ActionUpdate:
			action = "updated"
		case storage.ActionDelete:
			action = "deleted"
		default:
			continue
		}

		event := events.Event{
			Topic:  events.Topic(db.graph.ID, string(res.Kind), action),
			Action: action,
			Kind:   string(res.Kind),
			ID:     res.ID,
		}
		switch {
		case res.Node != nil:
			event.Entity = res.Node
		case res.Edge != nil:
			event.Entity = res.Edge
		}
		db.bus.Broadcast(event)
	}
}
