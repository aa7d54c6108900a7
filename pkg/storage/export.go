package storage

import (
	"encoding/json"
	"time"
)

// TimeFormat is the wire representation of timestamps: ISO-8601 UTC with
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// MetaExport is the public view of a Meta record.
type MetaExport struct {
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Version   int64  `json:"version"`
}

// NodeExport is the self-describing serialized form of a node.
// Only public fields are exposed; Schema and Protected are internal.
type NodeExport struct {
	ID   string         `json:"id"`
	Key  string         `json:"key,omitempty"`
	Data map[string]any `json:"data"`
	Meta MetaExport     `json:"meta"`
}

// EdgeExport is the self-describing serialized form of an edge.
type EdgeExport struct {
	ID     string         `json:"id"`
	Key    string         `json:"key,omitempty"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Weight float64        `json:"weight"`
	Data   map[string]any `json:"data"`
	Meta   MetaExport     `json:"meta"`
}

// GraphExport bundles a whole graph for import/export tooling.
type GraphExport struct {
	Nodes []NodeExport `json:"nodes"`
	Edges []EdgeExport `json:"edges"`
}

func exportMeta(m Meta) MetaExport {
	return MetaExport{
		CreatedAt: m.CreatedAt.UTC().Format(TimeFormat),
		UpdatedAt: m.UpdatedAt.UTC().Format(TimeFormat),
		Version:   m.Version,
	}
}

func importMeta(m MetaExport, kind EntityType) Meta {
	created, _ := time.Parse(TimeFormat, m.CreatedAt)
	updated, _ := time.Parse(TimeFormat, m.UpdatedAt)
	return Meta{
		CreatedAt:  created,
		UpdatedAt:  updated,
		Version:    m.Version,
		EntityType: kind,
	}
}

// Export returns the node's serializable public view.
func (n *Node) Export() NodeExport {
	data := make(map[string]any, len(n.Data))
	for k, v := range n.Data {
		data[k] = v
	}
	return NodeExport{
		ID:   string(n.ID),
		Key:  n.Key,
		Data: data,
		Meta: exportMeta(n.Meta),
	}
}

// Export returns the edge's serializable public view.
func (e *Edge) Export() EdgeExport {
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	return EdgeExport{
		ID:     string(e.ID),
		Key:    e.Key,
		Source: string(e.Source),
		Target: string(e.Target),
		Weight: e.Weight,
		Data:   data,
		Meta:   exportMeta(e.Meta),
	}
}

// MarshalJSON serializes the node's public fields only.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Export())
}

// MarshalJSON serializes the edge's public fields only.
func (e *Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Export())
}

// ToExport converts a node and edge population to the export bundle.
func ToExport(nodes []*Node, edges []*Edge) *GraphExport {
	export := &GraphExport{
		Nodes: make([]NodeExport, len(nodes)),
		Edges: make([]EdgeExport, len(edges)),
	}
	for i, n := range nodes {
		export.Nodes[i] = n.Export()
	}
	for i, e := range edges {
		export.Edges[i] = e.Export()
	}
	return export
}

// FromExport converts an export bundle back to nodes and edges ready for
// BulkInsertNodes / BulkInsertEdges.
func FromExport(export *GraphExport) ([]*Node, []*Edge) {
	nodes := make([]*Node, len(export.Nodes))
	for i, n := range export.Nodes {
		data := make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			data[k] = v
		}
		nodes[i] = &Node{
			ID:   NodeID(n.ID),
			Key:  n.Key,
			Data: data,
			Meta: importMeta(n.Meta, EntityNode),
		}
	}
	edges := make([]*Edge, len(export.Edges))
	for i, e := range export.Edges {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		edges[i] = &Edge{
			ID:     EdgeID(e.ID),
			Key:    e.Key,
			Source: NodeID(e.Source),
			Target: NodeID(e.Target),
			Weight: e.Weight,
			Data:   data,
			Meta:   importMeta(e.Meta, EntityEdge),
		}
	}
	return nodes, edges
}
