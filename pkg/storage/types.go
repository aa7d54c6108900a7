// Package storage provides the storage engine interface and the reference
// in-memory implementation for GraphOS.
//
// The storage layer holds one graph's population of nodes and edges behind
// the Engine contract. The reference engine keeps everything in indexed maps;
// the interface is designed so a disk-backed engine can be added later without
// changing callers.
//
// Design principles:
//   - Property graph model: nodes and edges carry free-form data maps
//   - Testability through dependency injection (Engine is an interface)
//   - Thread-safe implementations
//   - Deep copies at the boundary: callers never share memory with the store
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	node := storage.NewNode(map[string]any{"name": "Alice"},
//		storage.WithNodeID("user-123"), storage.WithNodeKey("user"))
//	engine.InsertNode(node, storage.ConflictError)
//
//	edge := storage.NewEdge("user-123", "user-456",
//		map[string]any{"since": 2020}, storage.WithEdgeKey("knows"))
//	engine.InsertEdge(edge, storage.ConflictError)
//
//	// Indexed edge lookup
//	edges, _ := engine.IterateEdges(storage.EdgeFilter{Source: "user-123"})
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors returned uniformly by all engines.
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("id conflict")
	ErrInvalidID             = errors.New("invalid id")
	ErrInvalidData           = errors.New("invalid data")
	ErrMissingSourceOrTarget = errors.New("edge source or target not found")
	ErrDanglingReference     = errors.New("edge references a node that will not exist at commit")
	ErrStorageClosed         = errors.New("storage closed")
	ErrIterationStopped      = errors.New("iteration stopped") // Sentinel to stop streaming early
)

// BackendError wraps an internal engine failure. Internal errors are never
// silently swallowed; the cause is always carried.
type BackendError struct {
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend internal error: %v", e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// EntityType tags the kind of entity a Meta record belongs to.
type EntityType string

const (
	EntityGraph EntityType = "graph"
	EntityNode  EntityType = "node"
	EntityEdge  EntityType = "edge"
)

// ConflictPolicy selects what an insert does when the id already exists.
type ConflictPolicy string

const (
	// ConflictError rejects the insert with ErrConflict. Default.
	ConflictError ConflictPolicy = "error"
	// ConflictIgnore keeps the existing entity and reports success.
	ConflictIgnore ConflictPolicy = "ignore"
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Using a custom type provides type safety (can't accidentally use an EdgeID
// where a NodeID is expected) and clear API semantics.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// Meta is the bookkeeping record every entity carries.
//
// Version starts at 0 and increments by exactly one on each successful
// update; it is strictly monotonic per entity. Deleted marks soft-deleted
// rollback slots: when a transaction captures a pre-image for a delete, the
// captured copy carries the tombstone until restored.
type Meta struct {
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Version    int64      `json:"version"`
	Deleted    bool       `json:"-"`
	EntityType EntityType `json:"-"`
}

// Node represents a graph node (vertex) in the property graph.
//
// Fields:
//   - ID: unique across the union of nodes and edges in one graph.
//     Externally assignable; auto-generated as UUIDv7 when omitted so that
//     natural sort order reflects creation order.
//   - Key: optional type/label used for secondary indexing ("user",
//     "access:actor", ...).
//   - Data: free-form properties (any JSON-serializable values).
//   - Meta: created/updated timestamps and the monotonic version counter.
//   - Schema: optional name of a registered property schema validated at
//     commit time.
//   - Protected: entities of the access-control subgraph carry true; only
//     the access package emits it, and mutating a protected entity requires
//     an actor whose matching permission carries admin.
//
// Node structs are NOT thread-safe. The storage engine handles concurrency
// and always returns deep copies.
type Node struct {
	ID     NodeID         `json:"id"`
	Key    string         `json:"key,omitempty"`
	Data   map[string]any `json:"data"`
	Meta   Meta           `json:"meta"`
	Schema string         `json:"-"`

	Protected bool `json:"-"`
}

// Edge represents a directed relationship between two nodes.
//
// An edge may exist only if both endpoints exist at commit time. Weight is
// float64 end to end; integer weights in input data are coerced at the
// boundary so Dijkstra/MST/PageRank arithmetic never changes representation.
type Edge struct {
	ID     EdgeID         `json:"id"`
	Key    string         `json:"key,omitempty"`
	Source NodeID         `json:"source"`
	Target NodeID         `json:"target"`
	Weight float64        `json:"weight"`
	Data   map[string]any `json:"data"`
	Meta   Meta           `json:"meta"`

	Protected bool `json:"-"`
}

// Graph is a named container for one population of nodes and edges.
// It is the unit of access-control scoping; one process may host many.
type Graph struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

func nowUTC() time.Time { return time.Now().UTC() }

// NewID returns a lexicographically sortable UUIDv7 string.
// Creation order is reflected in natural sort order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// NodeOption configures a node constructed by NewNode.
type NodeOption func(*Node)

// WithNodeID assigns an external id instead of an auto-generated UUIDv7.
func WithNodeID(id NodeID) NodeOption { return func(n *Node) { n.ID = id } }

// WithNodeKey assigns the secondary-index key (type/label).
func WithNodeKey(key string) NodeOption { return func(n *Node) { n.Key = key } }

// WithNodeSchema names the property schema validated at commit time.
func WithNodeSchema(name string) NodeOption { return func(n *Node) { n.Schema = name } }

// NewNode builds a well-formed node from a data map plus options.
//
// The id, if not supplied via WithNodeID, is auto-generated as a UUIDv7.
// Meta is stamped with the current time and version 0.
func NewNode(data map[string]any, opts ...NodeOption) *Node {
	now := time.Now().UTC()
	n := &Node{
		Data: data,
		Meta: Meta{CreatedAt: now, UpdatedAt: now, EntityType: EntityNode},
	}
	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.ID == "" {
		n.ID = NodeID(NewID())
	}
	return n
}

// EdgeOption configures an edge constructed by NewEdge.
type EdgeOption func(*Edge)

// WithEdgeID assigns an external id instead of an auto-generated UUIDv7.
func WithEdgeID(id EdgeID) EdgeOption { return func(e *Edge) { e.ID = id } }

// WithEdgeKey assigns the semantic label ("knows", "access:permission", ...).
func WithEdgeKey(key string) EdgeOption { return func(e *Edge) { e.Key = key } }

// WithWeight assigns the numeric edge weight (default 0).
func WithWeight(w float64) EdgeOption { return func(e *Edge) { e.Weight = w } }

// NewEdge builds a well-formed directed edge from source to target.
func NewEdge(source, target NodeID, data map[string]any, opts ...EdgeOption) *Edge {
	now := time.Now().UTC()
	e := &Edge{
		Source: source,
		Target: target,
		Data:   data,
		Meta:   Meta{CreatedAt: now, UpdatedAt: now, EntityType: EntityEdge},
	}
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ID == "" {
		e.ID = EdgeID(NewID())
	}
	return e
}

// CopyNode creates a deep copy of a node. The engine returns copies from
// every read so callers can never mutate stored state in place.
func CopyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	copied := &Node{
		ID:        n.ID,
		Key:       n.Key,
		Meta:      n.Meta,
		Schema:    n.Schema,
		Protected: n.Protected,
	}
	if n.Data != nil {
		copied.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			copied.Data[k] = v
		}
	}
	return copied
}

// CopyEdge creates a deep copy of an edge.
func CopyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	copied := &Edge{
		ID:        e.ID,
		Key:       e.Key,
		Source:    e.Source,
		Target:    e.Target,
		Weight:    e.Weight,
		Meta:      e.Meta,
		Protected: e.Protected,
	}
	if e.Data != nil {
		copied.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			copied.Data[k] = v
		}
	}
	return copied
}

// EdgeFilter is an index-backed filter for IterateEdges.
// Zero fields are wildcards; set fields must all match.
type EdgeFilter struct {
	Source NodeID
	Target NodeID
	Key    string
}

// Reader is the read-only view of one engine's committed state.
//
// The transaction engine hands a Reader to the access-control authorizer so
// that authorization decisions and the operations they gate see the same
// snapshot (the reader is served inside the same critical section as the
// commit).
type Reader interface {
	GetNode(id NodeID) (*Node, error)
	GetEdge(id EdgeID) (*Edge, error)
	IterateEdges(filter EdgeFilter) ([]*Edge, error)
}

// Engine defines the storage contract for one graph's physical state.
//
// All Engine implementations MUST be:
//   - Thread-safe: safe for concurrent access from multiple goroutines
//   - Atomic within each call: DeleteNode removes dangling edges in the
//     same step
//   - Copy-clean: every returned entity is a deep copy
//
// Required indices: primary by id for both kinds; secondary by source, by
// target, and by key for edges.
type Engine interface {
	Reader

	// Node operations
	InsertNode(node *Node, onConflict ConflictPolicy) error
	UpdateNode(id NodeID, patch map[string]any) (*Node, error)
	DeleteNode(id NodeID) error

	// Edge operations
	InsertEdge(edge *Edge, onConflict ConflictPolicy) error
	UpdateEdge(id EdgeID, patch map[string]any) (*Edge, error)
	DeleteEdge(id EdgeID) error

	// Query operations
	FindNodesByData(filter map[string]any) ([]*Node, error)
	AllNodes() ([]*Node, error)
	AllEdges() ([]*Edge, error)

	// Degree operations (for graph algorithms)
	GetInDegree(id NodeID) int
	GetOutDegree(id NodeID) int

	// Schema operations
	GetSchema() *SchemaManager

	// Bulk operations (for import)
	BulkInsertNodes(nodes []*Node) error
	BulkInsertEdges(edges []*Edge) error

	// Stats
	NodeCount() (int64, error)
	EdgeCount() (int64, error)

	// Lifecycle
	Close() error
}

// DataMatches reports whether data contains every entry of filter.
// Numeric values compare by float64 value so 2 matches 2.0.
func DataMatches(data, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := data[k]
		if !ok {
			return false
		}
		if !valueEqual(got, want) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if af, aok := ToFloat(a); aok {
		bf, bok := ToFloat(b)
		return bok && af == bf
	}
	return a == b
}

// ToFloat coerces any numeric value to float64. Non-numeric values report
// false. This is the single place integer weights widen to double precision.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
