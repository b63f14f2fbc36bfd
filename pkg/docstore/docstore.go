// Package docstore is the document-and-graph store client used by the entity
// layer. Documents are JSON-like maps living in named collections; edge
// collections hold documents with _from/_to endpoints; named graphs group an
// edge collection with the vertex collections it may connect.
//
// Two implementations exist: [KVStore] over any kv.Store (memory, badger,
// redis, sqlite) and neo4jstore over a Neo4j server.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haivivi/mediamgr/pkg/graph"
)

// Reserved document fields.
const (
	FieldID   = "_id"
	FieldKey  = "_key"
	FieldRev  = "_rev"
	FieldFrom = "_from"
	FieldTo   = "_to"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrConflict is returned by Update when the stored revision differs
	// from the expected one, or when a concurrent writer won the race.
	ErrConflict = errors.New("docstore: revision conflict")

	// ErrDuplicate is returned when inserting a key, collection or graph
	// that already exists.
	ErrDuplicate = errors.New("docstore: already exists")

	// ErrInvalidKey is returned for malformed document keys and ids.
	ErrInvalidKey = errors.New("docstore: invalid key")

	// ErrInvalidEdge is returned when an edge document lacks valid _from/_to
	// vertex ids.
	ErrInvalidEdge = errors.New("docstore: invalid edge")

	// ErrUnknownCollection is returned when a collection has not been created.
	ErrUnknownCollection = errors.New("docstore: unknown collection")

	// ErrUnknownGraph is returned when a named graph has not been created.
	ErrUnknownGraph = errors.New("docstore: unknown graph")
)

// Direction selects which edges a traversal follows.
type Direction = graph.Direction

// Traversal directions.
const (
	Outbound = graph.Outbound
	Inbound  = graph.Inbound
	Any      = graph.Any
)

// Document is a stored document: a mapping from field name to JSON-like
// value, including the reserved fields once persisted.
type Document map[string]any

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Str returns the string value of field, or "" if absent or not a string.
func (d Document) Str(field string) string {
	s, _ := d[field].(string)
	return s
}

// ID returns the document's _id.
func (d Document) ID() string { return d.Str(FieldID) }

// Key returns the document's _key.
func (d Document) Key() string { return d.Str(FieldKey) }

// Rev returns the document's _rev.
func (d Document) Rev() string { return d.Str(FieldRev) }

// Meta is the write metadata returned by Insert and Update.
type Meta struct {
	ID     string `json:"_id"`
	Key    string `json:"_key"`
	Rev    string `json:"_rev"`
	OldRev string `json:"_oldRev,omitempty"`
}

// CollectionOptions configures CreateCollection.
type CollectionOptions struct {
	// Edge marks an edge collection; its documents must carry _from and _to.
	Edge bool
}

// CollectionInfo describes a provisioned collection.
type CollectionInfo struct {
	Name    string   `json:"name" msgpack:"name"`
	Edge    bool     `json:"edge" msgpack:"edge"`
	Indexes []string `json:"indexes,omitempty" msgpack:"indexes"`
}

// EdgeDefinition binds an edge collection to the vertex collections its
// edges may start from and point to.
type EdgeDefinition struct {
	Collection string   `json:"collection" yaml:"collection" msgpack:"collection"`
	From       []string `json:"from" yaml:"from" msgpack:"from"`
	To         []string `json:"to" yaml:"to" msgpack:"to"`
}

// GraphDefinition is a named graph.
type GraphDefinition struct {
	Name            string           `json:"name" yaml:"name" msgpack:"name"`
	EdgeDefinitions []EdgeDefinition `json:"edge_definitions" yaml:"edge_definitions" msgpack:"edge_definitions"`
}

// EdgeCollections returns the edge collection names of g.
func (g GraphDefinition) EdgeCollections() []string {
	out := make([]string, len(g.EdgeDefinitions))
	for i, ed := range g.EdgeDefinitions {
		out[i] = ed.Collection
	}
	return out
}

// WriteOption configures Collection.Update.
type WriteOption func(*WriteOptions)

// WriteOptions is the resolved set of write options.
type WriteOptions struct {
	// IfRevision, when non-empty, makes the write fail with ErrConflict
	// unless the stored revision equals it.
	IfRevision string
}

// IfRevision requires the stored document to be at revision rev.
func IfRevision(rev string) WriteOption {
	return func(o *WriteOptions) { o.IfRevision = rev }
}

// ApplyWriteOptions resolves opts. Store implementations call it.
func ApplyWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Store is a document-and-graph database handle. Handles are safe for
// concurrent use.
type Store interface {
	// Collection returns a handle for the named collection. The handle is a
	// stateless router; existence is checked on use.
	Collection(name string) Collection

	// Traverse walks graphName from the vertex startID, following edges in
	// dir, and yields the vertex documents reached at a depth within
	// [minDepth, maxDepth]. The graph must exist; the walk itself runs lazily
	// as the cursor is advanced.
	Traverse(ctx context.Context, graphName string, dir Direction, minDepth, maxDepth int, startID string) (*Cursor, error)

	// HasCollection reports whether the collection has been created.
	HasCollection(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection. Returns ErrDuplicate if it
	// already exists.
	CreateCollection(ctx context.Context, name string, opts CollectionOptions) error

	// CollectionInfo describes a collection. Returns ErrUnknownCollection if
	// it does not exist.
	CollectionInfo(ctx context.Context, name string) (CollectionInfo, error)

	// EnsureIndex adds an equality index on field. Idempotent.
	EnsureIndex(ctx context.Context, collection, field string) error

	// HasGraph reports whether the named graph has been created.
	HasGraph(ctx context.Context, name string) (bool, error)

	// CreateGraph creates a named graph. Every referenced collection must
	// exist, and edge definitions must name edge collections. Returns
	// ErrDuplicate if the graph already exists.
	CreateGraph(ctx context.Context, def GraphDefinition) error

	// Graph returns the named graph's definition or ErrUnknownGraph.
	Graph(ctx context.Context, name string) (GraphDefinition, error)

	// Close releases the underlying connection or kv store.
	Close() error
}

// Collection is a handle on one collection.
type Collection interface {
	Name() string

	// Get loads a document by _key or by full _id ("collection/key").
	Get(ctx context.Context, idOrKey string) (Document, error)

	// Insert stores a new document and returns its metadata. _id and _rev
	// in doc are ignored; a missing _key is generated. Returns ErrDuplicate
	// if the key is taken.
	Insert(ctx context.Context, doc Document) (Meta, error)

	// Update merges doc's top-level fields into the stored document
	// identified by doc's _key (or _id) and assigns a new revision.
	Update(ctx context.Context, doc Document, opts ...WriteOption) (Meta, error)

	// Remove deletes a document. For edges the adjacency is removed too.
	Remove(ctx context.Context, idOrKey string) error

	// Find yields documents whose fields equal every value in filter.
	// Indexed fields are used when available.
	Find(ctx context.Context, filter map[string]any) *Cursor
}

// JoinID builds a document id from a collection and key.
func JoinID(collection, key string) string {
	return collection + "/" + key
}

// SplitID splits a document id into collection and key.
func SplitID(id string) (collection, key string, ok bool) {
	collection, key, ok = strings.Cut(id, "/")
	if !ok || collection == "" || key == "" || strings.Contains(key, "/") {
		return "", "", false
	}
	return collection, key, true
}

// ValidKey reports whether key may be used as a document key: non-empty,
// at most 254 bytes, without '/' or ':'.
func ValidKey(key string) bool {
	return key != "" && len(key) <= 254 && !strings.ContainsAny(key, "/:")
}

// ValidName reports whether name may be used as a collection or graph name.
func ValidName(name string) bool {
	if name == "" || len(name) > 256 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// NewRevision returns a fresh revision token. Tokens are time ordered.
func NewRevision() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ResolveKey accepts a bare key or an id of collection and returns the key.
func ResolveKey(collection, idOrKey string) (string, error) {
	key := idOrKey
	if coll, k, ok := SplitID(idOrKey); ok {
		if coll != collection {
			return "", fmt.Errorf("%w: %q is not in collection %s", ErrInvalidKey, idOrKey, collection)
		}
		key = k
	}
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, idOrKey)
	}
	return key, nil
}

// UpdateKey finds the target key of an update: _key, or else _id.
func UpdateKey(collection string, doc Document) (string, error) {
	if k, ok := doc[FieldKey]; ok {
		s, ok := k.(string)
		if !ok {
			return "", fmt.Errorf("%w: _key must be a string", ErrInvalidKey)
		}
		return ResolveKey(collection, s)
	}
	if id := doc.ID(); id != "" {
		return ResolveKey(collection, id)
	}
	return "", fmt.Errorf("%w: document has no _key or _id", ErrInvalidKey)
}

// PrepareInsert copies doc for insertion into collection: _id and _rev are
// replaced, a missing _key is generated, and a new revision is assigned.
func PrepareInsert(collection string, doc Document) (Document, Meta, error) {
	d := doc.Clone()
	if d == nil {
		d = Document{}
	}
	var key string
	switch k := d[FieldKey].(type) {
	case nil:
		key = uuid.NewString()
	case string:
		if !ValidKey(k) {
			return nil, Meta{}, fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
		key = k
	default:
		return nil, Meta{}, fmt.Errorf("%w: _key must be a string", ErrInvalidKey)
	}
	meta := Meta{ID: JoinID(collection, key), Key: key, Rev: NewRevision()}
	d[FieldKey], d[FieldID], d[FieldRev] = meta.Key, meta.ID, meta.Rev
	return d, meta, nil
}

// Merge returns old with the top-level fields of patch applied and _rev set
// to rev. Identity fields in patch are ignored.
func Merge(old, patch Document, rev string) Document {
	merged := old.Clone()
	for k, v := range patch {
		switch k {
		case FieldID, FieldKey, FieldRev:
			continue
		}
		merged[k] = v
	}
	merged[FieldRev] = rev
	return merged
}

// EdgeEndpoints returns the _from and _to ids of an edge document, or
// ErrInvalidEdge if either is missing or malformed.
func EdgeEndpoints(doc Document) (from, to string, err error) {
	from, to = doc.Str(FieldFrom), doc.Str(FieldTo)
	for _, v := range []string{from, to} {
		coll, key, ok := SplitID(v)
		if !ok || !ValidName(coll) || !ValidKey(key) {
			return "", "", fmt.Errorf("%w: _from=%q _to=%q", ErrInvalidEdge, doc[FieldFrom], doc[FieldTo])
		}
	}
	return from, to, nil
}
