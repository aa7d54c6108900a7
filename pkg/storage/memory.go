// Package storage - MemoryEngine, the reference in-memory backend.
//
// MemoryEngine keeps one graph's population in indexed maps guarded by a
// single RWMutex. Writes serialize through the write lock; reads proceed
// concurrently and see the last committed state. Results that would
// otherwise come back in map order are sorted by id so every read is
// deterministic for the same committed state.
package storage

import (
	"sort"
	"sync"
)

// MemoryEngine is a thread-safe in-memory graph storage implementation.
//
// Use cases:
//   - The reference backend for GraphOS graphs
//   - Unit testing (no disk I/O, fast cleanup)
//   - Datasets that fit entirely in RAM
//
// Features:
//   - Thread-safe: all operations use an RWMutex for concurrent access
//   - Indexed: primary by id, secondary by edge source, target, and key
//   - Deep copies: returns copies to prevent external mutation
//
// Performance characteristics:
//   - Node/edge lookup by id: O(1)
//   - Edge lookup by source/target/key: O(matches)
//   - FindNodesByData: O(n) scan (data maps carry no index)
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Secondary indices
	edgesBySource map[NodeID]map[EdgeID]struct{}
	edgesByTarget map[NodeID]map[EdgeID]struct{}
	edgesByKey    map[string]map[EdgeID]struct{}

	// Schema management
	schema *SchemaManager

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine with empty indices,
// ready for immediate concurrent use.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		edgesBySource: make(map[NodeID]map[EdgeID]struct{}),
		edgesByTarget: make(map[NodeID]map[EdgeID]struct{}),
		edgesByKey:    make(map[string]map[EdgeID]struct{}),
		schema:        NewSchemaManager(),
	}
}

// idTaken reports whether an id is already used by any entity.
// Ids are unique within a graph across the union of nodes and edges.
// Caller must hold at least the read lock.
func (m *MemoryEngine) idTaken(id string) bool {
	if _, exists := m.nodes[NodeID(id)]; exists {
		return true
	}
	_, exists := m.edges[EdgeID(id)]
	return exists
}

// InsertNode atomically inserts a single node.
//
// The node is deep-copied to prevent external mutation after storage.
// Conflict policy is selectable per call:
//   - ConflictError (default): an existing id returns ErrConflict
//   - ConflictIgnore: the existing entity is kept and nil is returned
func (m *MemoryEngine) InsertNode(node *Node, onConflict ConflictPolicy) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if m.idTaken(string(node.ID)) {
		if onConflict == ConflictIgnore {
			return nil
		}
		return ErrConflict
	}

	if err := m.schema.ValidateNode(node); err != nil {
		return err
	}

	m.insertNodeLocked(node)
	return nil
}

// GetNode retrieves a node by id, returning a deep copy.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return CopyNode(node), nil
}

// UpdateNode merges the patch into the node's data map, bumps the version,
// and refreshes updated_at. Returns the updated copy.
func (m *MemoryEngine) UpdateNode(id NodeID, patch map[string]any) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}

	updated := m.updateNodeLocked(node, patch)
	if err := m.schema.ValidateNode(updated); err != nil {
		// Validation runs against the merged state; restore on failure.
		m.nodes[id] = node
		return nil, err
	}
	return CopyNode(updated), nil
}

// DeleteNode removes a node. Dangling edges pointing at the deleted node
// are removed in the same atomic step.
func (m *MemoryEngine) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if _, exists := m.nodes[id]; !exists {
		return ErrNotFound
	}

	m.deleteNodeLocked(id)
	return nil
}

// InsertEdge atomically inserts a single edge. Both endpoints must exist.
func (m *MemoryEngine) InsertEdge(edge *Edge, onConflict ConflictPolicy) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if m.idTaken(string(edge.ID)) {
		if onConflict == ConflictIgnore {
			return nil
		}
		return ErrConflict
	}

	if _, exists := m.nodes[edge.Source]; !exists {
		return ErrMissingSourceOrTarget
	}
	if _, exists := m.nodes[edge.Target]; !exists {
		return ErrMissingSourceOrTarget
	}

	m.insertEdgeLocked(edge)
	return nil
}

// GetEdge retrieves an edge by id, returning a deep copy.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return nil, ErrNotFound
	}
	return CopyEdge(edge), nil
}

// UpdateEdge merges the patch into the edge's data map, bumps the version,
// and refreshes updated_at. Returns the updated copy.
func (m *MemoryEngine) UpdateEdge(id EdgeID, patch map[string]any) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return nil, ErrNotFound
	}

	updated := m.updateEdgeLocked(edge, patch)
	return CopyEdge(updated), nil
}

// DeleteEdge removes an edge and its index entries.
func (m *MemoryEngine) DeleteEdge(id EdgeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if _, exists := m.edges[id]; !exists {
		return ErrNotFound
	}

	m.deleteEdgeLocked(id)
	return nil
}

// FindNodesByData returns all nodes whose data map contains each entry of
// the filter map. Results are sorted by id for determinism.
func (m *MemoryEngine) FindNodesByData(filter map[string]any) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	return m.findNodesByDataLocked(filter), nil
}

// IterateEdges yields edges matching the index-backed filter. Every set
// field must match; zero fields are wildcards. The source index drives
// iteration when Source is set, else the target index, else the key
// index; results are sorted by edge id.
func (m *MemoryEngine) IterateEdges(filter EdgeFilter) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	return m.iterateEdgesLocked(filter), nil
}

// AllNodes returns all nodes sorted by id.
func (m *MemoryEngine) AllNodes() ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	nodes := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, CopyNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// AllEdges returns all edges sorted by id.
func (m *MemoryEngine) AllEdges() ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edges := make([]*Edge, 0, len(m.edges))
	for _, edge := range m.edges {
		edges = append(edges, CopyEdge(edge))
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

// GetInDegree returns the number of incoming edges to a node.
func (m *MemoryEngine) GetInDegree(id NodeID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0
	}
	return len(m.edgesByTarget[id])
}

// GetOutDegree returns the number of outgoing edges from a node.
func (m *MemoryEngine) GetOutDegree(id NodeID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0
	}
	return len(m.edgesBySource[id])
}

// GetSchema returns the schema manager for property-schema registration.
func (m *MemoryEngine) GetSchema() *SchemaManager {
	return m.schema
}

// BulkInsertNodes inserts multiple nodes in a single lock acquisition.
// All nodes are validated before any are inserted; all-or-nothing.
func (m *MemoryEngine) BulkInsertNodes(nodes []*Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil {
			return ErrInvalidData
		}
		if node.ID == "" {
			return ErrInvalidID
		}
		if m.idTaken(string(node.ID)) {
			return ErrConflict
		}
		if _, dup := seen[string(node.ID)]; dup {
			return ErrConflict
		}
		seen[string(node.ID)] = struct{}{}
		if err := m.schema.ValidateNode(node); err != nil {
			return err
		}
	}

	for _, node := range nodes {
		m.insertNodeLocked(node)
	}
	return nil
}

// BulkInsertEdges inserts multiple edges in a single lock acquisition.
// All edges are validated before any are inserted; all-or-nothing.
func (m *MemoryEngine) BulkInsertEdges(edges []*Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	seen := make(map[string]struct{}, len(edges))
	for _, edge := range edges {
		if edge == nil {
			return ErrInvalidData
		}
		if edge.ID == "" {
			return ErrInvalidID
		}
		if m.idTaken(string(edge.ID)) {
			return ErrConflict
		}
		if _, dup := seen[string(edge.ID)]; dup {
			return ErrConflict
		}
		seen[string(edge.ID)] = struct{}{}
		if _, exists := m.nodes[edge.Source]; !exists {
			return ErrMissingSourceOrTarget
		}
		if _, exists := m.nodes[edge.Target]; !exists {
			return ErrMissingSourceOrTarget
		}
	}

	for _, edge := range edges {
		m.insertEdgeLocked(edge)
	}
	return nil
}

// NodeCount returns the number of nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// EdgeCount returns the number of edges.
func (m *MemoryEngine) EdgeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// Close tears down engine state and releases all memory.
//
// After Close, all subsequent operations return ErrStorageClosed.
// Close is idempotent.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.edgesBySource = nil
	m.edgesByTarget = nil
	m.edgesByKey = nil
	return nil
}

// BeginTransaction creates a new transaction bound to this engine.
func (m *MemoryEngine) BeginTransaction() *Transaction {
	return NewTransaction(m)
}

// ============================================================================
// Locked internals
// ============================================================================
// These methods assume the caller already holds the write lock (or the read
// lock for the read-only ones). They are used by the public methods above and
// by Transaction.Commit, which performs authorize/stage/apply inside a single
// critical section. Do NOT call these directly.

func (m *MemoryEngine) insertNodeLocked(node *Node) {
	m.nodes[node.ID] = CopyNode(node)
}

func (m *MemoryEngine) updateNodeLocked(node *Node, patch map[string]any) *Node {
	updated := CopyNode(node)
	for k, v := range patch {
		updated.Data[k] = v
	}
	updated.Meta.Version++
	updated.Meta.UpdatedAt = nowUTC()
	m.nodes[node.ID] = updated
	return updated
}

func (m *MemoryEngine) deleteNodeLocked(id NodeID) {
	for edgeID := range m.edgesBySource[id] {
		m.deleteEdgeLocked(edgeID)
	}
	for edgeID := range m.edgesByTarget[id] {
		m.deleteEdgeLocked(edgeID)
	}
	delete(m.edgesBySource, id)
	delete(m.edgesByTarget, id)
	delete(m.nodes, id)
}

// restoreNodeLocked puts back a captured pre-image verbatim (meta included).
// Used by transaction rollback; regular inserts go through insertNodeLocked.
func (m *MemoryEngine) restoreNodeLocked(node *Node) {
	restored := CopyNode(node)
	restored.Meta.Deleted = false
	m.nodes[node.ID] = restored
}

func (m *MemoryEngine) insertEdgeLocked(edge *Edge) {
	m.edges[edge.ID] = CopyEdge(edge)

	if m.edgesBySource[edge.Source] == nil {
		m.edgesBySource[edge.Source] = make(map[EdgeID]struct{})
	}
	m.edgesBySource[edge.Source][edge.ID] = struct{}{}

	if m.edgesByTarget[edge.Target] == nil {
		m.edgesByTarget[edge.Target] = make(map[EdgeID]struct{})
	}
	m.edgesByTarget[edge.Target][edge.ID] = struct{}{}

	if edge.Key != "" {
		if m.edgesByKey[edge.Key] == nil {
			m.edgesByKey[edge.Key] = make(map[EdgeID]struct{})
		}
		m.edgesByKey[edge.Key][edge.ID] = struct{}{}
	}
}

func (m *MemoryEngine) updateEdgeLocked(edge *Edge, patch map[string]any) *Edge {
	updated := CopyEdge(edge)
	for k, v := range patch {
		updated.Data[k] = v
	}
	updated.Meta.Version++
	updated.Meta.UpdatedAt = nowUTC()
	m.edges[edge.ID] = updated
	return updated
}

func (m *MemoryEngine) deleteEdgeLocked(id EdgeID) {
	edge, exists := m.edges[id]
	if !exists {
		return
	}

	if bySource := m.edgesBySource[edge.Source]; bySource != nil {
		delete(bySource, id)
	}
	if byTarget := m.edgesByTarget[edge.Target]; byTarget != nil {
		delete(byTarget, id)
	}
	if edge.Key != "" {
		if byKey := m.edgesByKey[edge.Key]; byKey != nil {
			delete(byKey, id)
			if len(byKey) == 0 {
				delete(m.edgesByKey, edge.Key)
			}
		}
	}
	delete(m.edges, id)
}

func (m *MemoryEngine) restoreEdgeLocked(edge *Edge) {
	restored := CopyEdge(edge)
	restored.Meta.Deleted = false
	m.edges[edge.ID] = restored
	m.insertEdgeIndicesLocked(restored)
}

func (m *MemoryEngine) insertEdgeIndicesLocked(edge *Edge) {
	if m.edgesBySource[edge.Source] == nil {
		m.edgesBySource[edge.Source] = make(map[EdgeID]struct{})
	}
	m.edgesBySource[edge.Source][edge.ID] = struct{}{}
	if m.edgesByTarget[edge.Target] == nil {
		m.edgesByTarget[edge.Target] = make(map[EdgeID]struct{})
	}
	m.edgesByTarget[edge.Target][edge.ID] = struct{}{}
	if edge.Key != "" {
		if m.edgesByKey[edge.Key] == nil {
			m.edgesByKey[edge.Key] = make(map[EdgeID]struct{})
		}
		m.edgesByKey[edge.Key][edge.ID] = struct{}{}
	}
}

func (m *MemoryEngine) findNodesByDataLocked(filter map[string]any) []*Node {
	nodes := make([]*Node, 0)
	for _, node := range m.nodes {
		if DataMatches(node.Data, filter) {
			nodes = append(nodes, CopyNode(node))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func (m *MemoryEngine) iterateEdgesLocked(filter EdgeFilter) []*Edge {
	var candidates map[EdgeID]struct{}
	switch {
	case filter.Source != "":
		candidates = m.edgesBySource[filter.Source]
	case filter.Target != "":
		candidates = m.edgesByTarget[filter.Target]
	case filter.Key != "":
		candidates = m.edgesByKey[filter.Key]
	}

	edges := make([]*Edge, 0)
	if candidates != nil {
		for id := range candidates {
			edge := m.edges[id]
			if edge != nil && edgeMatches(edge, filter) {
				edges = append(edges, CopyEdge(edge))
			}
		}
	} else if filter.Source == "" && filter.Target == "" && filter.Key == "" {
		for _, edge := range m.edges {
			edges = append(edges, CopyEdge(edge))
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}

func edgeMatches(e *Edge, f EdgeFilter) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Key != "" && e.Key != f.Key {
		return false
	}
	return true
}

// lockedReader serves reads against engine state while the caller already
// holds the engine lock. The transaction engine hands it to the authorizer
// so authorization and execution share one snapshot.
type lockedReader struct {
	engine *MemoryEngine
}

func (r lockedReader) GetNode(id NodeID) (*Node, error) {
	node, exists := r.engine.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return CopyNode(node), nil
}

func (r lockedReader) GetEdge(id EdgeID) (*Edge, error) {
	edge, exists := r.engine.edges[id]
	if !exists {
		return nil, ErrNotFound
	}
	return CopyEdge(edge), nil
}

func (r lockedReader) IterateEdges(filter EdgeFilter) ([]*Edge, error) {
	return r.engine.iterateEdgesLocked(filter), nil
}

// Verify MemoryEngine implements Engine.
var _ Engine = (*MemoryEngine)(nil)
var _ Reader = lockedReader{}
