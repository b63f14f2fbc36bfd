// Package graph maintains the adjacency index of the document store. Edges
// are grouped by edge collection and connect vertex ids ("collection/key").
// Every edge is indexed twice, once under its source and once under its
// target, so traversals can move in either direction without scanning.
package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/haivivi/mediamgr/pkg/kv"
)

// Sentinel errors.
var (
	// ErrInvalidID is returned when a vertex id, edge key or edge collection
	// contains the KV separator character (default ':'). These values are
	// used as KV key segments and must not contain the separator.
	ErrInvalidID = errors.New("graph: id contains separator")

	// ErrInvalidDirection is returned for a Direction outside the known set.
	ErrInvalidDirection = errors.New("graph: invalid direction")
)

// Direction selects which edges a traversal follows from a vertex.
type Direction int

const (
	// Outbound follows edges whose source is the current vertex.
	Outbound Direction = iota + 1
	// Inbound follows edges whose target is the current vertex.
	Inbound
	// Any follows edges in both directions.
	Any
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "OUTBOUND"
	case Inbound:
		return "INBOUND"
	case Any:
		return "ANY"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection accepts "outbound", "inbound" or "any" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "OUTBOUND":
		return Outbound, nil
	case "INBOUND":
		return Inbound, nil
	case "ANY":
		return Any, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Edge is one directed edge in an edge collection.
type Edge struct {
	// Collection is the edge collection the edge belongs to.
	Collection string `json:"collection"`

	// Key identifies the edge within its collection. Parallel edges between
	// the same pair of vertices are distinct when their keys differ.
	Key string `json:"key"`

	// From and To are vertex ids.
	From string `json:"from"`
	To   string `json:"to"`
}

// Other returns the endpoint of e that is not v. For a self-loop it returns v.
func (e Edge) Other(v string) string {
	if e.From == v {
		return e.To
	}
	return e.From
}

// Step is a vertex reached by a walk together with the edge that led to it.
type Step struct {
	Vertex string
	Edge   Edge
	Depth  int
}

// WalkOptions configures Graph.Walk.
type WalkOptions struct {
	// Collections lists the edge collections to follow. Required.
	Collections []string

	Direction Direction

	// MinDepth and MaxDepth bound the hop count of yielded vertices. A
	// MinDepth of 0 yields the start vertex itself first.
	MinDepth int
	MaxDepth int
}

// Graph is the adjacency index interface used by the document store.
//
// Link and Unlink take a kv.Txn so the adjacency entries commit together
// with the edge document they describe.
type Graph interface {
	// Link indexes e under both endpoints. Re-linking the same edge is a no-op.
	Link(tx kv.Txn, e Edge) error

	// Unlink removes both index entries of e. No error if absent.
	Unlink(tx kv.Txn, e Edge) error

	// Edges returns the edges touching vertex in the given direction,
	// restricted to the listed edge collections.
	Edges(ctx context.Context, vertex string, dir Direction, collections ...string) ([]Edge, error)

	// Walk performs a breadth-first traversal from start and yields every
	// vertex first reached at a depth within [MinDepth, MaxDepth]. Each
	// vertex is yielded at most once per walk. The start vertex is yielded
	// at depth 1 when a self-loop touches it, unless MinDepth is 0.
	Walk(ctx context.Context, start string, opts WalkOptions) iter.Seq2[Step, error]
}
