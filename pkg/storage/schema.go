// Package storage - property schema management.
//
// A schema constrains the data map of nodes that reference it (via the
// node's Schema field) or that carry a bound key. Validation happens at
// insert and at transaction commit, before any mutation is applied.
//
// Schemas are declarative and can be registered programmatically or loaded
// from YAML documents:
//
//	schemas:
//	  - name: user
//	    bind_key: user
//	    properties:
//	      name:  {type: string, required: true}
//	      email: {type: string}
//	      age:   {type: int}
package storage

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// PropertyType names the accepted value shape for one data property.
type PropertyType string

const (
	PropAny    PropertyType = "any"
	PropString PropertyType = "string"
	PropBool   PropertyType = "bool"
	PropInt    PropertyType = "int"
	PropFloat  PropertyType = "float"
	PropList   PropertyType = "list"
	PropMap    PropertyType = "map"
)

// PropertyRule constrains a single property of a data map.
type PropertyRule struct {
	Type     PropertyType `yaml:"type"`
	Required bool         `yaml:"required"`
}

// PropertySchema is a named set of property rules.
//
// BindKey optionally attaches the schema to every node carrying that key,
// so entity owners don't have to reference the schema on each node.
type PropertySchema struct {
	Name       string                  `yaml:"name"`
	BindKey    string                  `yaml:"bind_key"`
	Properties map[string]PropertyRule `yaml:"properties"`
}

// SchemaManager holds registered property schemas for one engine.
// All methods are safe for concurrent use.
type SchemaManager struct {
	mu      sync.RWMutex
	schemas map[string]*PropertySchema
	byKey   map[string]*PropertySchema
}

// NewSchemaManager creates an empty schema manager.
func NewSchemaManager() *SchemaManager {
	return &SchemaManager{
		schemas: make(map[string]*PropertySchema),
		byKey:   make(map[string]*PropertySchema),
	}
}

// Register adds or replaces a schema.
func (sm *SchemaManager) Register(schema *PropertySchema) error {
	if schema == nil || schema.Name == "" {
		return fmt.Errorf("%w: schema requires a name", ErrInvalidData)
	}
	for prop, rule := range schema.Properties {
		if !validPropertyType(rule.Type) {
			return fmt.Errorf("%w: property %q has unknown type %q", ErrInvalidData, prop, rule.Type)
		}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.schemas[schema.Name] = schema
	if schema.BindKey != "" {
		sm.byKey[schema.BindKey] = schema
	}
	return nil
}

// Get returns a schema by name.
func (sm *SchemaManager) Get(name string) (*PropertySchema, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.schemas[name]
	return s, ok
}

// schemaFile is the YAML document shape accepted by LoadYAML.
type schemaFile struct {
	Schemas []*PropertySchema `yaml:"schemas"`
}

// LoadYAML parses a YAML schema document and registers every schema in it.
func (sm *SchemaManager) LoadYAML(doc []byte) error {
	var file schemaFile
	if err := yaml.Unmarshal(doc, &file); err != nil {
		return fmt.Errorf("parse schema document: %w", err)
	}
	for _, schema := range file.Schemas {
		if schema.Properties == nil {
			schema.Properties = make(map[string]PropertyRule)
		}
		for prop, rule := range schema.Properties {
			if rule.Type == "" {
				rule.Type = PropAny
				schema.Properties[prop] = rule
			}
		}
		if err := sm.Register(schema); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNode checks a node's data map against its schema, if any.
// The schema is resolved by the node's Schema reference first, then by a
// bound key. Nodes with neither pass trivially.
func (sm *SchemaManager) ValidateNode(node *Node) error {
	sm.mu.RLock()
	schema := sm.schemas[node.Schema]
	if schema == nil && node.Key != "" {
		schema = sm.byKey[node.Key]
	}
	sm.mu.RUnlock()

	if schema == nil {
		return nil
	}
	return schema.Validate(node.Data)
}

// Validate checks a data map against the schema's rules.
func (s *PropertySchema) Validate(data map[string]any) error {
	for prop, rule := range s.Properties {
		value, present := data[prop]
		if !present {
			if rule.Required {
				return fmt.Errorf("%w: schema %q requires property %q", ErrInvalidData, s.Name, prop)
			}
			continue
		}
		if !typeMatches(rule.Type, value) {
			return fmt.Errorf("%w: schema %q property %q is not %s", ErrInvalidData, s.Name, prop, rule.Type)
		}
	}
	return nil
}

func validPropertyType(t PropertyType) bool {
	switch t {
	case PropAny, PropString, PropBool, PropInt, PropFloat, PropList, PropMap, "":
		return true
	}
	return false
}

func typeMatches(t PropertyType, v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case PropAny, "":
		return true
	case PropString:
		_, ok := v.(string)
		return ok
	case PropBool:
		_, ok := v.(bool)
		return ok
	case PropInt:
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case PropFloat:
		_, ok := ToFloat(v)
		return ok
	case PropList:
		_, ok := v.([]any)
		return ok
	case PropMap:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}
