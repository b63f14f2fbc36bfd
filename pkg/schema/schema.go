// Package schema is the registry of collection rules, indexes and graph
// topology. A Registry is built once at start-up and never mutated; every
// component that needs it receives it explicitly.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/goccy/go-yaml"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

//go:embed mediamgr.yaml
var defaultYAML []byte

// ErrInvalidRegistry is returned when a registry definition is malformed.
// It is a configuration error and should stop the process.
var ErrInvalidRegistry = errors.New("schema: invalid registry")

// Primitive field types.
const (
	TypeNull    = "null"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeInteger = "integer"
)

// Property is one typed field of a structural rule.
type Property struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Collection describes one collection: its structural rule, the fields to
// index, and whether it holds edges.
type Collection struct {
	Name       string     `yaml:"name" json:"name"`
	Edge       bool       `yaml:"edge,omitempty" json:"edge,omitempty"`
	Properties []Property `yaml:"properties" json:"properties"`
	Required   []string   `yaml:"required,omitempty" json:"required,omitempty"`
	Indexes    []string   `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// File is the on-disk registry format.
type File struct {
	Collections []Collection               `yaml:"collections" json:"collections"`
	Graphs      []docstore.GraphDefinition `yaml:"graphs" json:"graphs"`
}

type entry struct {
	def      Collection
	rule     *jsonschema.Schema
	resolved *jsonschema.Resolved
}

type topology struct {
	graph    string
	from, to []string
}

// Registry is an immutable set of collection rules and graphs.
type Registry struct {
	order   []string
	entries map[string]*entry
	graphs  []docstore.GraphDefinition
	edges   map[string]topology
}

// Default returns the built-in mediamgr registry: cast, media and faces
// vertices, appears_in and face_matches_face edges, and the casting_graph
// and matching_faces graphs.
func Default() *Registry {
	r, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultYAML returns the source of the built-in registry.
func DefaultYAML() []byte { return slices.Clone(defaultYAML) }

// Parse builds a Registry from its YAML form.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, err)
	}
	return New(f.Collections, f.Graphs)
}

var validTypes = []string{TypeNull, TypeBoolean, TypeObject, TypeArray, TypeNumber, TypeString, TypeInteger}

// New builds a Registry. Every rule is checked here: unknown primitive
// types, duplicate names, dangling graph references and edge collections
// outside exactly one graph are all rejected.
func New(collections []Collection, graphs []docstore.GraphDefinition) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]*entry, len(collections)),
		edges:   make(map[string]topology),
	}
	for _, c := range collections {
		e, err := newEntry(c)
		if err != nil {
			return nil, err
		}
		if _, dup := r.entries[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate collection %q", ErrInvalidRegistry, c.Name)
		}
		r.entries[c.Name] = e
		r.order = append(r.order, c.Name)
	}

	seen := make(map[string]bool)
	for _, g := range graphs {
		if !docstore.ValidName(g.Name) || seen[g.Name] {
			return nil, fmt.Errorf("%w: bad or duplicate graph name %q", ErrInvalidRegistry, g.Name)
		}
		seen[g.Name] = true
		if len(g.EdgeDefinitions) == 0 {
			return nil, fmt.Errorf("%w: graph %s has no edge definitions", ErrInvalidRegistry, g.Name)
		}
		for _, ed := range g.EdgeDefinitions {
			if err := r.checkEdgeDefinition(g.Name, ed); err != nil {
				return nil, err
			}
			r.edges[ed.Collection] = topology{
				graph: g.Name,
				from:  slices.Clone(ed.From),
				to:    slices.Clone(ed.To),
			}
		}
		r.graphs = append(r.graphs, cloneGraph(g))
	}
	for _, name := range r.order {
		if r.entries[name].def.Edge {
			if _, ok := r.edges[name]; !ok {
				return nil, fmt.Errorf("%w: edge collection %s belongs to no graph", ErrInvalidRegistry, name)
			}
		}
	}
	return r, nil
}

func newEntry(c Collection) (*entry, error) {
	if !docstore.ValidName(c.Name) {
		return nil, fmt.Errorf("%w: bad collection name %q", ErrInvalidRegistry, c.Name)
	}
	rule := &jsonschema.Schema{
		Type:       TypeObject,
		Properties: make(map[string]*jsonschema.Schema, len(c.Properties)),
		Required:   slices.Clone(c.Required),
	}
	for _, p := range c.Properties {
		if !slices.Contains(validTypes, p.Type) {
			return nil, fmt.Errorf("%w: illegal type %q for %s.%s", ErrInvalidRegistry, p.Type, c.Name, p.Name)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%w: %s has a property without a name", ErrInvalidRegistry, c.Name)
		}
		if _, dup := rule.Properties[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate property %s.%s", ErrInvalidRegistry, c.Name, p.Name)
		}
		rule.Properties[p.Name] = &jsonschema.Schema{Type: p.Type}
	}
	for _, f := range c.Required {
		switch f {
		case docstore.FieldID, docstore.FieldKey, docstore.FieldRev:
			return nil, fmt.Errorf("%w: %s must not require %s", ErrInvalidRegistry, c.Name, f)
		case docstore.FieldFrom, docstore.FieldTo:
			if c.Edge {
				return nil, fmt.Errorf("%w: edge collection %s must not require %s", ErrInvalidRegistry, c.Name, f)
			}
		}
	}
	for _, f := range c.Indexes {
		if !docstore.ValidName(f) {
			return nil, fmt.Errorf("%w: bad index field %s.%q", ErrInvalidRegistry, c.Name, f)
		}
	}
	resolved, err := rule.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRegistry, c.Name, err)
	}
	def := c
	def.Properties = slices.Clone(c.Properties)
	def.Required = slices.Clone(c.Required)
	def.Indexes = slices.Clone(c.Indexes)
	return &entry{def: def, rule: rule, resolved: resolved}, nil
}

func (r *Registry) checkEdgeDefinition(graph string, ed docstore.EdgeDefinition) error {
	e, ok := r.entries[ed.Collection]
	if !ok || !e.def.Edge {
		return fmt.Errorf("%w: graph %s: %q is not an edge collection", ErrInvalidRegistry, graph, ed.Collection)
	}
	if _, taken := r.edges[ed.Collection]; taken {
		return fmt.Errorf("%w: edge collection %s is in more than one graph", ErrInvalidRegistry, ed.Collection)
	}
	if len(ed.From) == 0 || len(ed.To) == 0 {
		return fmt.Errorf("%w: graph %s: %s needs from and to collections", ErrInvalidRegistry, graph, ed.Collection)
	}
	for _, v := range slices.Concat(ed.From, ed.To) {
		ve, ok := r.entries[v]
		if !ok || ve.def.Edge {
			return fmt.Errorf("%w: graph %s: %q is not a vertex collection", ErrInvalidRegistry, graph, v)
		}
	}
	return nil
}

func cloneGraph(g docstore.GraphDefinition) docstore.GraphDefinition {
	out := docstore.GraphDefinition{Name: g.Name, EdgeDefinitions: make([]docstore.EdgeDefinition, len(g.EdgeDefinitions))}
	for i, ed := range g.EdgeDefinitions {
		out.EdgeDefinitions[i] = docstore.EdgeDefinition{
			Collection: ed.Collection,
			From:       slices.Clone(ed.From),
			To:         slices.Clone(ed.To),
		}
	}
	return out
}

// lookup panics for unknown names: asking about a collection the registry
// does not define is a programming error.
func (r *Registry) lookup(name string) *entry {
	e, ok := r.entries[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown collection %q", name))
	}
	return e
}

// Has reports whether the registry defines the collection.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Collections returns the collection definitions in declaration order.
func (r *Registry) Collections() []Collection {
	out := make([]Collection, len(r.order))
	for i, name := range r.order {
		out[i] = r.Collection(name)
	}
	return out
}

// Collection returns a copy of the named collection's definition.
func (r *Registry) Collection(name string) Collection {
	def := r.lookup(name).def
	def.Properties = slices.Clone(def.Properties)
	def.Required = slices.Clone(def.Required)
	def.Indexes = slices.Clone(def.Indexes)
	return def
}

// Graphs returns the graph definitions in declaration order.
func (r *Registry) Graphs() []docstore.GraphDefinition {
	out := make([]docstore.GraphDefinition, len(r.graphs))
	for i, g := range r.graphs {
		out[i] = cloneGraph(g)
	}
	return out
}

// RuleFor returns the structural rule of a collection. The result is shared
// and must not be modified.
func (r *Registry) RuleFor(name string) *jsonschema.Schema {
	return r.lookup(name).rule
}

// RequiredIndexesFor returns the fields of a collection that carry a
// secondary index.
func (r *Registry) RequiredIndexesFor(name string) []string {
	return slices.Clone(r.lookup(name).def.Indexes)
}

// IsEdge reports whether name is an edge collection.
func (r *Registry) IsEdge(name string) bool {
	return r.lookup(name).def.Edge
}

// GraphTopologyFor returns the vertex collections an edge collection may
// connect. It panics if name is not an edge collection.
func (r *Registry) GraphTopologyFor(edgeCollection string) (from, to []string) {
	t := r.topology(edgeCollection)
	return slices.Clone(t.from), slices.Clone(t.to)
}

// GraphFor returns the name of the graph an edge collection belongs to.
func (r *Registry) GraphFor(edgeCollection string) string {
	return r.topology(edgeCollection).graph
}

func (r *Registry) topology(edgeCollection string) topology {
	if !r.lookup(edgeCollection).def.Edge {
		panic(fmt.Sprintf("schema: %q is not an edge collection", edgeCollection))
	}
	return r.edges[edgeCollection]
}

// Template returns the default document of a collection: every declared
// property set to the zero value of its type. The result never carries a
// revision, so saving it inserts.
func (r *Registry) Template(name string) docstore.Document {
	e := r.lookup(name)
	doc := make(docstore.Document, len(e.def.Properties))
	for _, p := range e.def.Properties {
		doc[p.Name] = zeroValue(p.Type)
	}
	delete(doc, docstore.FieldRev)
	return doc
}

func zeroValue(typ string) any {
	switch typ {
	case TypeBoolean:
		return false
	case TypeObject:
		return map[string]any{}
	case TypeArray:
		return []any{}
	case TypeNumber:
		return 0.0
	case TypeString:
		return ""
	case TypeInteger:
		return 0
	}
	return nil
}

// Validate checks doc against the collection's structural rule: required
// fields present and every declared field of its declared type.
func (r *Registry) Validate(name string, doc map[string]any) error {
	e := r.lookup(name)
	if doc == nil {
		return fmt.Errorf("schema: %s: document is nil", name)
	}
	if err := e.resolved.Validate(doc); err != nil {
		return fmt.Errorf("schema: %s: %w", name, err)
	}
	return nil
}

// Names returns the collection names in declaration order.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// EdgeCollections returns the edge collection names, sorted.
func (r *Registry) EdgeCollections() []string {
	return slices.Sorted(maps.Keys(r.edges))
}
