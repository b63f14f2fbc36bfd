// Package query runs the fixed catalog of named graph traversals.
//
// Each named query is a single traversal over one named graph, started from
// the vertex bound to its start variable. There is no query language: the
// catalog is the whole surface.
package query

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

var (
	// ErrUnknownQuery is returned for names missing from the catalog.
	ErrUnknownQuery = errors.New("query: unknown query")

	// ErrMissingParameter is returned when a required variable is not bound.
	ErrMissingParameter = errors.New("query: missing required parameter")

	// ErrInvalidArgument is returned when a bound variable has the wrong type.
	ErrInvalidArgument = errors.New("query: invalid argument")
)

// Query names of the default catalog.
const (
	CastByMedia       = "cast_by_media"
	MediaByCast       = "media_by_cast"
	FacesMatchingFace = "faces_matching_face"
)

// Definition is one named traversal.
type Definition struct {
	Name      string
	Graph     string
	Direction docstore.Direction
	MinDepth  int
	MaxDepth  int

	// Start names the variable holding the start vertex id.
	Start string

	// Vars lists every variable the query requires, Start included.
	Vars []string
}

// Catalog is an immutable set of named traversals.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog builds a catalog. Names must be unique and every definition's
// Start must be among its Vars.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("query: definition without a name")
		}
		if _, dup := c.defs[d.Name]; dup {
			return nil, fmt.Errorf("query: duplicate definition %q", d.Name)
		}
		if !slices.Contains(d.Vars, d.Start) {
			return nil, fmt.Errorf("query: %s: start variable %q not in %v", d.Name, d.Start, d.Vars)
		}
		if d.MinDepth < 0 || d.MaxDepth < d.MinDepth {
			return nil, fmt.Errorf("query: %s: invalid depth range %d..%d", d.Name, d.MinDepth, d.MaxDepth)
		}
		d.Vars = slices.Clone(d.Vars)
		c.defs[d.Name] = d
	}
	return c, nil
}

// DefaultCatalog returns the mediamgr traversals, each one hop deep:
//
//	cast_by_media(media_id)      inbound on casting_graph
//	media_by_cast(cast_id)       outbound on casting_graph
//	faces_matching_face(face_id) either direction on matching_faces
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Definition{Name: CastByMedia, Graph: "casting_graph", Direction: docstore.Inbound, MinDepth: 1, MaxDepth: 1, Start: "media_id", Vars: []string{"media_id"}},
		Definition{Name: MediaByCast, Graph: "casting_graph", Direction: docstore.Outbound, MinDepth: 1, MaxDepth: 1, Start: "cast_id", Vars: []string{"cast_id"}},
		Definition{Name: FacesMatchingFace, Graph: "matching_faces", Direction: docstore.Any, MinDepth: 1, MaxDepth: 1, Start: "face_id", Vars: []string{"face_id"}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the named definition.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	d, ok := c.defs[name]
	d.Vars = slices.Clone(d.Vars)
	return d, ok
}

// Names returns the catalog's query names, sorted.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.defs))
}

// Executor runs catalog queries against a store.
type Executor struct {
	store   docstore.Store
	catalog *Catalog
}

// NewExecutor returns an Executor. A nil catalog means DefaultCatalog.
func NewExecutor(store docstore.Store, catalog *Catalog) *Executor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Executor{store: store, catalog: catalog}
}

// Catalog returns the executor's catalog.
func (e *Executor) Catalog() *Catalog { return e.catalog }

// Bind checks vars against the named query and returns its definition and
// start vertex id. Extra variables are ignored. It never touches the store.
func (c *Catalog) Bind(name string, vars map[string]any) (Definition, string, error) {
	d, ok := c.Lookup(name)
	if !ok {
		return Definition{}, "", fmt.Errorf("%w: %q", ErrUnknownQuery, name)
	}
	for _, v := range d.Vars {
		if _, ok := vars[v]; !ok {
			return Definition{}, "", fmt.Errorf("%w: %q", ErrMissingParameter, v)
		}
	}
	start, ok := vars[d.Start].(string)
	if !ok {
		return Definition{}, "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgument, d.Start, vars[d.Start])
	}
	return d, start, nil
}

// Execute runs the named query with vars bound and returns a lazy cursor
// over the reached vertex documents. Results come in the store's traversal
// order. The caller must Close the cursor unless it is drained.
func (e *Executor) Execute(ctx context.Context, name string, vars map[string]any) (*docstore.Cursor, error) {
	d, start, err := e.catalog.Bind(name, vars)
	if err != nil {
		return nil, err
	}
	return e.store.Traverse(ctx, d.Graph, d.Direction, d.MinDepth, d.MaxDepth, start)
}
