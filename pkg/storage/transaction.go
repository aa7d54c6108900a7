// Package storage - transaction support for atomic multi-operation commits.
//
// A transaction is an ordered list of operations applied all-or-nothing.
// Commit proceeds in four phases inside one critical section on the engine:
//
//  1. AUTHORIZE: each operation is checked against the access policy, in
//     list order. The first denial aborts with no mutations. The policy
//     reads through the same snapshot the commit will modify.
//  2. STAGE: operations build an in-memory change set and the end state is
//     validated (id uniqueness, referential integrity, schema).
//  3. APPLY: staged changes land atomically; every apply records its
//     inverse so a mid-apply failure unwinds in reverse order.
//  4. RESULTS: one result per operation, aligned 1:1 with the input list.
//
// A committed transaction keeps its inverse log, so Rollback can undo it
// later: the inverse of create is delete, the inverse of update restores
// the pre-image (data and meta), and the inverse of delete re-creates the
// captured pre-image. Delete is therefore soft-first - the engine reads the
// full entity before removal. Rolling back twice is a no-op.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Transaction errors.
var ErrTransactionClosed = errors.New("transaction already closed")

// InvalidOperationError reports a malformed transaction operation.
type InvalidOperationError struct {
	Action Action
	Kind   Kind
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation: action=%q kind=%q", e.Action, e.Kind)
}

// UnauthorizedError reports an access denial for one operation.
type UnauthorizedError struct {
	Op  *Operation
	Err error
}

func (e *UnauthorizedError) Error() string {
	if e.Op == nil {
		return "unauthorized"
	}
	return fmt.Sprintf("unauthorized: %s %s %s", e.Op.Action, e.Op.Kind, e.Op.EntityID())
}

func (e *UnauthorizedError) Unwrap() error { return e.Err }

// Action is the verb of a transaction operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoop   Action = "noop"
)

// Kind is the entity kind a transaction operation targets.
type Kind string

const (
	KindNode Kind = "node"
	KindEdge Kind = "edge"
)

// OperationOptions carries per-operation settings.
type OperationOptions struct {
	OnConflict ConflictPolicy
}

// Operation is one step of a transaction.
//
// The payload depends on the action:
//   - create: Node or Edge carries the full entity
//   - update: ID names the target, Patch is merged into its data map
//   - delete: ID names the target
//   - noop: nothing; succeeds and mutates nothing
type Operation struct {
	Action  Action
	Kind    Kind
	Node    *Node
	Edge    *Edge
	ID      string
	Patch   map[string]any
	Options OperationOptions
}

// EntityID returns the id the operation targets, for diagnostics.
func (op *Operation) EntityID() string {
	switch {
	case op.ID != "":
		return op.ID
	case op.Node != nil:
		return string(op.Node.ID)
	case op.Edge != nil:
		return string(op.Edge.ID)
	}
	return ""
}

// Validate checks the operation shape before commit.
func (op *Operation) Validate() error {
	if op.Kind != KindNode && op.Kind != KindEdge {
		if op.Action == ActionNoop {
			return nil
		}
		return &InvalidOperationError{Action: op.Action, Kind: op.Kind}
	}
	switch op.Action {
	case ActionCreate:
		if op.Kind == KindNode && op.Node == nil {
			return &InvalidOperationError{Action: op.Action, Kind: op.Kind}
		}
		if op.Kind == KindEdge && op.Edge == nil {
			return &InvalidOperationError{Action: op.Action, Kind: op.Kind}
		}
	case ActionUpdate, ActionDelete:
		if op.EntityID() == "" {
			return &InvalidOperationError{Action: op.Action, Kind: op.Kind}
		}
	case ActionNoop:
	default:
		return &InvalidOperationError{Action: op.Action, Kind: op.Kind}
	}
	return nil
}

// Result is the outcome of one operation, aligned 1:1 with the input list.
// Create and update carry the produced entity; a conflict-ignored create
// and a delete carry only the id; a noop carries whatever id its operation
// names (none for a plain Noop).
type Result struct {
	Action Action `json:"action"`
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
	Node   *Node  `json:"node,omitempty"`
	Edge   *Edge  `json:"edge,omitempty"`
}

// Authorizer is consulted for every operation before a commit mutates
// anything. The Reader serves the same snapshot the commit will modify.
// A nil Authorizer on the transaction bypasses all checks.
type Authorizer interface {
	AuthorizeOperation(op *Operation, view Reader) error
}

// TransactionStatus tracks the transaction lifecycle.
type TransactionStatus string

const (
	TxStatusActive     TransactionStatus = "active"
	TxStatusCommitted  TransactionStatus = "committed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// inverseOp is one entry of the inverse log, captured at apply time.
type inverseOp struct {
	action Action // inverse action to perform
	kind   Kind
	nodeID NodeID
	edgeID EdgeID
	node   *Node   // pre-image for restores
	edge   *Edge   // pre-image for restores
	edges  []*Edge // cascade-deleted edges restored with their node
}

// Transaction is an ordered, atomic batch of operations against one engine.
//
// Operations are buffered until Commit. Commits on the same graph serialize
// through the engine's write lock; readers see the last committed state.
type Transaction struct {
	mu sync.Mutex

	ID        string
	StartTime time.Time
	Status    TransactionStatus

	engine *MemoryEngine
	auth   Authorizer

	ops     []*Operation
	inverse []inverseOp
	Results []Result
}

// NewTransaction creates a transaction bound to a storage engine with no
// access policy attached (checks bypassed - explicit opt-in).
func NewTransaction(engine *MemoryEngine) *Transaction {
	return &Transaction{
		ID:        "tx-" + NewID(),
		StartTime: time.Now().UTC(),
		Status:    TxStatusActive,
		engine:    engine,
	}
}

// SetAuthorizer attaches the access policy consulted on commit.
func (tx *Transaction) SetAuthorizer(auth Authorizer) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.auth = auth
}

// Add buffers an operation after validating its shape.
func (tx *Transaction) Add(op *Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	tx.ops = append(tx.ops, op)
	return nil
}

// CreateNode buffers a node creation.
func (tx *Transaction) CreateNode(node *Node, opts ...OperationOptions) error {
	op := &Operation{Action: ActionCreate, Kind: KindNode, Node: node}
	if len(opts) > 0 {
		op.Options = opts[0]
	}
	return tx.Add(op)
}

// UpdateNode buffers a patch merge into an existing node.
func (tx *Transaction) UpdateNode(id NodeID, patch map[string]any) error {
	return tx.Add(&Operation{Action: ActionUpdate, Kind: KindNode, ID: string(id), Patch: patch})
}

// DeleteNode buffers a node deletion.
func (tx *Transaction) DeleteNode(id NodeID) error {
	return tx.Add(&Operation{Action: ActionDelete, Kind: KindNode, ID: string(id)})
}

// CreateEdge buffers an edge creation.
func (tx *Transaction) CreateEdge(edge *Edge, opts ...OperationOptions) error {
	op := &Operation{Action: ActionCreate, Kind: KindEdge, Edge: edge}
	if len(opts) > 0 {
		op.Options = opts[0]
	}
	return tx.Add(op)
}

// UpdateEdge buffers a patch merge into an existing edge.
func (tx *Transaction) UpdateEdge(id EdgeID, patch map[string]any) error {
	return tx.Add(&Operation{Action: ActionUpdate, Kind: KindEdge, ID: string(id), Patch: patch})
}

// DeleteEdge buffers an edge deletion.
func (tx *Transaction) DeleteEdge(id EdgeID) error {
	return tx.Add(&Operation{Action: ActionDelete, Kind: KindEdge, ID: string(id)})
}

// Noop buffers an operation that succeeds and mutates nothing.
func (tx *Transaction) Noop() error {
	return tx.Add(&Operation{Action: ActionNoop})
}

// OperationCount returns the number of buffered operations.
func (tx *Transaction) OperationCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.ops)
}

// IsActive reports whether the transaction can still buffer operations.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.Status == TxStatusActive
}

// stagedState is the change set built during the stage phase.
// A nil map value marks an entity deleted by this transaction.
type stagedState struct {
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	createdEdges []EdgeID
}

func (s *stagedState) nodeAlive(engine *MemoryEngine, id NodeID) (*Node, bool) {
	if staged, touched := s.nodes[id]; touched {
		return staged, staged != nil
	}
	node, exists := engine.nodes[id]
	return node, exists
}

func (s *stagedState) edgeAlive(engine *MemoryEngine, id EdgeID) (*Edge, bool) {
	if staged, touched := s.edges[id]; touched {
		return staged, staged != nil
	}
	edge, exists := engine.edges[id]
	return edge, exists
}

func (s *stagedState) idTaken(engine *MemoryEngine, id string) bool {
	if _, alive := s.nodeAlive(engine, NodeID(id)); alive {
		return true
	}
	_, alive := s.edgeAlive(engine, EdgeID(id))
	return alive
}

// Commit applies all buffered operations atomically.
//
// ctx is honoured between each staged operation; on cancellation the engine
// lock is released and no mutation survives.
func (tx *Transaction) Commit(ctx context.Context) ([]Result, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil, ErrTransactionClosed
	}

	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()

	if tx.engine.closed {
		return nil, ErrStorageClosed
	}

	view := lockedReader{engine: tx.engine}

	// Phase 1: authorize every operation in list order. First denial
	// aborts with no mutations. Authorization reads the same snapshot the
	// operations will modify.
	if tx.auth != nil {
		for _, op := range tx.ops {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := tx.auth.AuthorizeOperation(op, view); err != nil {
				if _, ok := err.(*UnauthorizedError); ok {
					return nil, err
				}
				return nil, &UnauthorizedError{Op: op, Err: err}
			}
		}
	}

	// Phase 2: stage into a change set and validate the end state.
	staged := &stagedState{
		nodes: make(map[NodeID]*Node),
		edges: make(map[EdgeID]*Edge),
	}
	results := make([]Result, len(tx.ops))
	noop := make([]bool, len(tx.ops))

	for i, op := range tx.ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, skip, err := tx.stageOp(op, staged)
		if err != nil {
			return nil, err
		}
		results[i] = res
		noop[i] = skip
	}

	// End-state referential integrity: an edge created by this transaction
	// must have both endpoints alive once every operation has applied. A
	// deletion of an endpoint in the same transaction that creates an edge
	// to it is an error.
	for _, edgeID := range staged.createdEdges {
		edge, alive := staged.edgeAlive(tx.engine, edgeID)
		if !alive {
			continue
		}
		if _, ok := staged.nodeAlive(tx.engine, edge.Source); !ok {
			return nil, fmt.Errorf("edge %s: %w", edgeID, ErrDanglingReference)
		}
		if _, ok := staged.nodeAlive(tx.engine, edge.Target); !ok {
			return nil, fmt.Errorf("edge %s: %w", edgeID, ErrDanglingReference)
		}
	}

	// Phase 3: apply atomically, recording inverses. A failed apply
	// unwinds the prior applies in reverse order.
	tx.inverse = tx.inverse[:0]
	for i, op := range tx.ops {
		if noop[i] {
			continue
		}
		if err := tx.applyOp(op, &results[i]); err != nil {
			tx.unwindLocked()
			return nil, err
		}
	}

	tx.Status = TxStatusCommitted
	tx.Results = results
	return results, nil
}

// stageOp validates one operation against the staged view and records its
// effect. skip marks operations that must not reach the apply phase
// (noops, and conflict-ignored creates).
func (tx *Transaction) stageOp(op *Operation, staged *stagedState) (Result, bool, error) {
	res := Result{Action: op.Action, Kind: op.Kind, ID: op.EntityID()}

	switch {
	case op.Action == ActionNoop:
		return res, true, nil

	case op.Action == ActionCreate && op.Kind == KindNode:
		node := op.Node
		if staged.idTaken(tx.engine, string(node.ID)) {
			if op.Options.OnConflict == ConflictIgnore {
				res.ID = string(node.ID)
				return res, true, nil
			}
			return res, false, fmt.Errorf("node %s: %w", node.ID, ErrConflict)
		}
		if err := tx.engine.schema.ValidateNode(node); err != nil {
			return res, false, err
		}
		staged.nodes[node.ID] = node
		res.ID = string(node.ID)
		res.Node = CopyNode(node)
		return res, false, nil

	case op.Action == ActionCreate && op.Kind == KindEdge:
		edge := op.Edge
		if staged.idTaken(tx.engine, string(edge.ID)) {
			if op.Options.OnConflict == ConflictIgnore {
				res.ID = string(edge.ID)
				return res, true, nil
			}
			return res, false, fmt.Errorf("edge %s: %w", edge.ID, ErrConflict)
		}
		if _, ok := staged.nodeAlive(tx.engine, edge.Source); !ok {
			return res, false, fmt.Errorf("edge %s: %w", edge.ID, ErrMissingSourceOrTarget)
		}
		if _, ok := staged.nodeAlive(tx.engine, edge.Target); !ok {
			return res, false, fmt.Errorf("edge %s: %w", edge.ID, ErrMissingSourceOrTarget)
		}
		staged.edges[edge.ID] = edge
		staged.createdEdges = append(staged.createdEdges, edge.ID)
		res.ID = string(edge.ID)
		res.Edge = CopyEdge(edge)
		return res, false, nil

	case op.Action == ActionUpdate && op.Kind == KindNode:
		id := NodeID(op.ID)
		current, alive := staged.nodeAlive(tx.engine, id)
		if !alive {
			return res, false, fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		merged := CopyNode(current)
		for k, v := range op.Patch {
			merged.Data[k] = v
		}
		merged.Meta.Version++
		merged.Meta.UpdatedAt = nowUTC()
		if err := tx.engine.schema.ValidateNode(merged); err != nil {
			return res, false, err
		}
		staged.nodes[id] = merged
		res.Node = CopyNode(merged)
		return res, false, nil

	case op.Action == ActionUpdate && op.Kind == KindEdge:
		id := EdgeID(op.ID)
		current, alive := staged.edgeAlive(tx.engine, id)
		if !alive {
			return res, false, fmt.Errorf("edge %s: %w", id, ErrNotFound)
		}
		merged := CopyEdge(current)
		for k, v := range op.Patch {
			merged.Data[k] = v
		}
		merged.Meta.Version++
		merged.Meta.UpdatedAt = nowUTC()
		staged.edges[id] = merged
		res.Edge = CopyEdge(merged)
		return res, false, nil

	case op.Action == ActionDelete && op.Kind == KindNode:
		id := NodeID(op.ID)
		if _, alive := staged.nodeAlive(tx.engine, id); !alive {
			return res, false, fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		staged.nodes[id] = nil
		// Edges attached to the node die with it in the same atomic step.
		for _, edge := range tx.engine.iterateEdgesLocked(EdgeFilter{Source: id}) {
			staged.edges[edge.ID] = nil
		}
		for _, edge := range tx.engine.iterateEdgesLocked(EdgeFilter{Target: id}) {
			staged.edges[edge.ID] = nil
		}
		return res, false, nil

	case op.Action == ActionDelete && op.Kind == KindEdge:
		id := EdgeID(op.ID)
		if _, alive := staged.edgeAlive(tx.engine, id); !alive {
			return res, false, fmt.Errorf("edge %s: %w", id, ErrNotFound)
		}
		staged.edges[id] = nil
		return res, false, nil
	}

	return res, false, &InvalidOperationError{Action: op.Action, Kind: op.Kind}
}

// applyOp lands one staged operation and records its inverse.
// Caller holds the engine write lock.
func (tx *Transaction) applyOp(op *Operation, res *Result) error {
	engine := tx.engine

	switch {
	case op.Action == ActionCreate && op.Kind == KindNode:
		engine.insertNodeLocked(res.Node)
		tx.inverse = append(tx.inverse, inverseOp{action: ActionDelete, kind: KindNode, nodeID: res.Node.ID})

	case op.Action == ActionCreate && op.Kind == KindEdge:
		engine.insertEdgeLocked(res.Edge)
		tx.inverse = append(tx.inverse, inverseOp{action: ActionDelete, kind: KindEdge, edgeID: res.Edge.ID})

	case op.Action == ActionUpdate && op.Kind == KindNode:
		id := NodeID(op.ID)
		pre, exists := engine.nodes[id]
		if !exists {
			return fmt.Errorf("node %s vanished during apply: %w", id, ErrNotFound)
		}
		preImage := CopyNode(pre)
		engine.nodes[id] = CopyNode(res.Node)
		tx.inverse = append(tx.inverse, inverseOp{action: ActionUpdate, kind: KindNode, nodeID: id, node: preImage})

	case op.Action == ActionUpdate && op.Kind == KindEdge:
		id := EdgeID(op.ID)
		pre, exists := engine.edges[id]
		if !exists {
			return fmt.Errorf("edge %s vanished during apply: %w", id, ErrNotFound)
		}
		preImage := CopyEdge(pre)
		engine.edges[id] = CopyEdge(res.Edge)
		tx.inverse = append(tx.inverse, inverseOp{action: ActionUpdate, kind: KindEdge, edgeID: id, edge: preImage})

	case op.Action == ActionDelete && op.Kind == KindNode:
		id := NodeID(op.ID)
		pre, exists := engine.nodes[id]
		if !exists {
			// Deleted by an earlier cascade in this transaction.
			return nil
		}
		preImage := CopyNode(pre)
		preImage.Meta.Deleted = true

		// Capture edges the delete will cascade away.
		var cascaded []*Edge
		for _, edge := range engine.iterateEdgesLocked(EdgeFilter{Source: id}) {
			captured := CopyEdge(edge)
			captured.Meta.Deleted = true
			cascaded = append(cascaded, captured)
		}
		for _, edge := range engine.iterateEdgesLocked(EdgeFilter{Target: id}) {
			if edge.Source == id {
				continue // self-loop already captured via the source index
			}
			captured := CopyEdge(edge)
			captured.Meta.Deleted = true
			cascaded = append(cascaded, captured)
		}

		engine.deleteNodeLocked(id)
		tx.inverse = append(tx.inverse, inverseOp{
			action: ActionCreate, kind: KindNode, nodeID: id, node: preImage, edges: cascaded,
		})

	case op.Action == ActionDelete && op.Kind == KindEdge:
		id := EdgeID(op.ID)
		pre, exists := engine.edges[id]
		if !exists {
			return nil
		}
		preImage := CopyEdge(pre)
		preImage.Meta.Deleted = true
		engine.deleteEdgeLocked(id)
		tx.inverse = append(tx.inverse, inverseOp{action: ActionCreate, kind: KindEdge, edgeID: id, edge: preImage})
	}

	return nil
}

// unwindLocked rolls back prior applies in reverse order using the inverse
// log. Caller holds the engine write lock.
func (tx *Transaction) unwindLocked() {
	for i := len(tx.inverse) - 1; i >= 0; i-- {
		tx.applyInverseLocked(tx.inverse[i])
	}
	tx.inverse = tx.inverse[:0]
}

func (tx *Transaction) applyInverseLocked(inv inverseOp) {
	engine := tx.engine
	switch {
	case inv.action == ActionDelete && inv.kind == KindNode:
		engine.deleteNodeLocked(inv.nodeID)
	case inv.action == ActionDelete && inv.kind == KindEdge:
		engine.deleteEdgeLocked(inv.edgeID)
	case inv.action == ActionUpdate && inv.kind == KindNode:
		engine.restoreNodeLocked(inv.node)
	case inv.action == ActionUpdate && inv.kind == KindEdge:
		// Endpoints cannot have changed (updates patch data only), so a
		// plain restore keeps the indices intact.
		restored := CopyEdge(inv.edge)
		restored.Meta.Deleted = false
		engine.edges[inv.edge.ID] = restored
	case inv.action == ActionCreate && inv.kind == KindNode:
		engine.restoreNodeLocked(inv.node)
		for _, edge := range inv.edges {
			engine.restoreEdgeLocked(edge)
		}
	case inv.action == ActionCreate && inv.kind == KindEdge:
		engine.restoreEdgeLocked(inv.edge)
	}
}

// Rollback undoes a committed transaction by applying its inverse log in
// reverse order. Rolling back an already rolled-back transaction is a
// no-op; versions are not mutated twice.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	switch tx.Status {
	case TxStatusRolledBack:
		return nil
	case TxStatusActive:
		// Nothing applied yet; discarding the buffer is the whole rollback.
		tx.ops = nil
		tx.Status = TxStatusRolledBack
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()

	if tx.engine.closed {
		return ErrStorageClosed
	}

	if len(tx.inverse) > 0 {
		log.Printf("[graphos] rolling back transaction %s (%d operations)", tx.ID, len(tx.inverse))
	}
	tx.unwindLocked()
	tx.Status = TxStatusRolledBack
	return nil
}
