package graphos

import (
	"errors"
	"fmt"

	"github.com/orneryd/graphos/pkg/storage"
)

// ErrInvalidOperationMessage reports a transaction message that matches
// none of the accepted tuple shapes.
var ErrInvalidOperationMessage = errors.New("invalid operation message")

// ParseOperationMessage decodes one wire-level transaction operation.
//
// Wire adapters (JSON-RPC, gRPC, MCP) deliver operations as tuples,
// decoded here from a []any:
//
//	[action, kind, data, options]  full form
//	[action, kind, data]           options default to empty
//	[action, kind, id]             when only an id is needed
//	[action, kind]                 defaults
//
// data is a map; for create it is the entity's data map, for update it is
// the patch. options is a map recognizing: "id", "key", "source",
// "target", "weight", "schema", and "on_conflict" ("error" | "ignore").
// Any other shape is rejected with ErrInvalidOperationMessage.
func ParseOperationMessage(msg []any) (*storage.Operation, error) {
	if len(msg) < 2 || len(msg) > 4 {
		return nil, fmt.Errorf("%w: %d elements", ErrInvalidOperationMessage, len(msg))
	}

	action, ok := asAction(msg[0])
	if !ok {
		return nil, fmt.Errorf("%w: bad action %v", ErrInvalidOperationMessage, msg[0])
	}
	kind, ok := asKind(msg[1])
	if !ok {
		if action == storage.ActionNoop {
			return &storage.Operation{Action: storage.ActionNoop}, nil
		}
		return nil, fmt.Errorf("%w: bad kind %v", ErrInvalidOperationMessage, msg[1])
	}

	var (
		data    map[string]any
		options map[string]any
		id      string
	)

	switch len(msg) {
	case 2:
		// defaults only
	case 3:
		switch v := msg[2].(type) {
		case map[string]any:
			data = v
		case string:
			id = v
		case nil:
		default:
			return nil, fmt.Errorf("%w: bad third element %T", ErrInvalidOperationMessage, msg[2])
		}
	case 4:
		var ok bool
		if msg[2] != nil {
			if data, ok = msg[2].(map[string]any); !ok {
				return nil, fmt.Errorf("%w: bad data %T", ErrInvalidOperationMessage, msg[2])
			}
		}
		if msg[3] != nil {
			if options, ok = msg[3].(map[string]any); !ok {
				return nil, fmt.Errorf("%w: bad options %T", ErrInvalidOperationMessage, msg[3])
			}
		}
	}

	if id == "" {
		id, _ = options["id"].(string)
	}

	op := &storage.Operation{Action: action, Kind: kind}

	switch action {
	case storage.ActionNoop:
		op.Kind = kind

	case storage.ActionCreate:
		if kind == storage.KindNode {
			op.Node = buildNode(data, options)
		} else {
			source, _ := options["source"].(string)
			target, _ := options["target"].(string)
			if source == "" || target == "" {
				return nil, fmt.Errorf("%w: create edge without source and target", ErrInvalidOperationMessage)
			}
			op.Edge = buildEdge(data, options)
		}
		if policy, ok := options["on_conflict"].(string); ok {
			op.Options.OnConflict = storage.ConflictPolicy(policy)
		}

	case storage.ActionUpdate:
		if id == "" {
			return nil, fmt.Errorf("%w: update without id", ErrInvalidOperationMessage)
		}
		op.ID = id
		op.Patch = data

	case storage.ActionDelete:
		if id == "" {
			return nil, fmt.Errorf("%w: delete without id", ErrInvalidOperationMessage)
		}
		op.ID = id

	default:
		return nil, fmt.Errorf("%w: action %q", ErrInvalidOperationMessage, action)
	}

	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperationMessage, err)
	}
	return op, nil
}

// ParseTransactionMessage decodes a list of operation tuples into a ready
// transaction against db.
func (db *DB) ParseTransactionMessage(msgs [][]any) (*storage.Transaction, error) {
	tx := db.NewTransaction()
	for i, msg := range msgs {
		op, err := ParseOperationMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		if err := tx.Add(op); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return tx, nil
}

func asAction(v any) (storage.Action, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch a := storage.Action(s); a {
	case storage.ActionCreate, storage.ActionUpdate, storage.ActionDelete, storage.ActionNoop:
		return a, true
	}
	return "", false
}

func asKind(v any) (storage.Kind, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch k := storage.Kind(s); k {
	case storage.KindNode, storage.KindEdge:
		return k, true
	}
	return "", false
}

func buildNode(data, options map[string]any) *storage.Node {
	var opts []storage.NodeOption
	if id, ok := options["id"].(string); ok {
		opts = append(opts, storage.WithNodeID(storage.NodeID(id)))
	}
	if key, ok := options["key"].(string); ok {
		opts = append(opts, storage.WithNodeKey(key))
	}
	if schema, ok := options["schema"].(string); ok {
		opts = append(opts, storage.WithNodeSchema(schema))
	}
	return storage.NewNode(data, opts...)
}

func buildEdge(data, options map[string]any) *storage.Edge {
	source, _ := options["source"].(string)
	target, _ := options["target"].(string)

	var opts []storage.EdgeOption
	if id, ok := options["id"].(string); ok {
		opts = append(opts, storage.WithEdgeID(storage.EdgeID(id)))
	}
	if key, ok := options["key"].(string); ok {
		opts = append(opts, storage.WithEdgeKey(key))
	}
	if w, ok := storage.ToFloat(options["weight"]); ok {
		opts = append(opts, storage.WithWeight(w))
	}
	return storage.NewEdge(storage.NodeID(source), storage.NodeID(target), data, opts...)
}
