package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/mediamgr/pkg/graph"
	"github.com/haivivi/mediamgr/pkg/kv"
)

// KV key layout (relative to {"db", name}):
//
//	meta:coll:{collection}                 → msgpack CollectionInfo
//	meta:graph:{graph}                     → msgpack GraphDefinition
//	doc:{collection}:{key}                 → msgpack Document
//	idx:{collection}:{field}:{token}:{key} → empty
//	adj:...                                → graph.KVGraph adjacency

// KVStore is a Store backed by a kv.Store. Every write runs in one
// kv.Store.Update so a document, its index entries and its adjacency entries
// commit together.
type KVStore struct {
	kv   kv.Store
	root kv.Key
	adj  *graph.KVGraph
}

var _ Store = (*KVStore)(nil)

// Open returns a document store named name on top of store. Several named
// databases may share one kv.Store. Closing the KVStore closes store.
func Open(store kv.Store, name string) (*KVStore, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("docstore: invalid database name %q", name)
	}
	root := kv.Key{"db", name}
	return &KVStore{
		kv:   store,
		root: root,
		adj:  graph.NewKVGraph(store, root.Append("adj")),
	}, nil
}

func (s *KVStore) collMetaKey(name string) kv.Key  { return s.root.Append("meta", "coll", name) }
func (s *KVStore) graphMetaKey(name string) kv.Key { return s.root.Append("meta", "graph", name) }
func (s *KVStore) docPrefix(coll string) kv.Key    { return s.root.Append("doc", coll) }
func (s *KVStore) docKey(coll, key string) kv.Key  { return s.root.Append("doc", coll, key) }

func (s *KVStore) idxKey(coll, field, token, key string) kv.Key {
	return s.root.Append("idx", coll, field, token, key)
}

// getFunc abstracts reads from either a kv.Txn or the store itself.
type getFunc func(kv.Key) ([]byte, error)

func (s *KVStore) storeGet(ctx context.Context) getFunc {
	return func(k kv.Key) ([]byte, error) { return s.kv.Get(ctx, k) }
}

func (s *KVStore) readCollection(get getFunc, name string) (CollectionInfo, error) {
	var info CollectionInfo
	data, err := get(s.collMetaKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return info, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if err != nil {
		return info, err
	}
	if err := msgpack.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("docstore: decode collection %s: %w", name, err)
	}
	return info, nil
}

func (s *KVStore) readDoc(get getFunc, coll, key string) (Document, error) {
	data, err := get(s.docKey(coll, key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, JoinID(coll, key))
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(data)
}

// mapErr translates kv errors that callers are expected to test for.
func mapErr(err error) error {
	if errors.Is(err, kv.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// --- Store ---

func (s *KVStore) Collection(name string) Collection {
	return &kvCollection{s: s, name: name}
}

func (s *KVStore) HasCollection(ctx context.Context, name string) (bool, error) {
	_, err := s.readCollection(s.storeGet(ctx), name)
	if errors.Is(err, ErrUnknownCollection) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVStore) CollectionInfo(ctx context.Context, name string) (CollectionInfo, error) {
	return s.readCollection(s.storeGet(ctx), name)
}

func (s *KVStore) CreateCollection(ctx context.Context, name string, opts CollectionOptions) error {
	if !ValidName(name) {
		return fmt.Errorf("docstore: invalid collection name %q", name)
	}
	return mapErr(s.kv.Update(ctx, func(tx kv.Txn) error {
		_, err := s.readCollection(tx.Get, name)
		if err == nil {
			return fmt.Errorf("%w: collection %s", ErrDuplicate, name)
		}
		if !errors.Is(err, ErrUnknownCollection) {
			return err
		}
		data, err := msgpack.Marshal(CollectionInfo{Name: name, Edge: opts.Edge})
		if err != nil {
			return err
		}
		return tx.Set(s.collMetaKey(name), data)
	}))
}

func (s *KVStore) EnsureIndex(ctx context.Context, collection, field string) error {
	if !ValidName(field) {
		return fmt.Errorf("docstore: invalid index field %q", field)
	}
	info, err := s.CollectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	if slices.Contains(info.Indexes, field) {
		return nil
	}

	// Backfill entries for documents that predate the index.
	var backfill []kv.Key
	for entry, err := range s.kv.List(ctx, s.docPrefix(collection)) {
		if err != nil {
			return err
		}
		doc, err := decodeDoc(entry.Value)
		if err != nil {
			return err
		}
		v, ok := doc[field]
		if !ok {
			continue
		}
		if tok, ok := indexToken(v); ok {
			backfill = append(backfill, s.idxKey(collection, field, tok, doc.Key()))
		}
	}

	return mapErr(s.kv.Update(ctx, func(tx kv.Txn) error {
		info, err := s.readCollection(tx.Get, collection)
		if err != nil {
			return err
		}
		if slices.Contains(info.Indexes, field) {
			return nil
		}
		info.Indexes = append(info.Indexes, field)
		data, err := msgpack.Marshal(info)
		if err != nil {
			return err
		}
		if err := tx.Set(s.collMetaKey(collection), data); err != nil {
			return err
		}
		for _, k := range backfill {
			if err := tx.Set(k, []byte{}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *KVStore) HasGraph(ctx context.Context, name string) (bool, error) {
	_, err := s.Graph(ctx, name)
	if errors.Is(err, ErrUnknownGraph) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVStore) Graph(ctx context.Context, name string) (GraphDefinition, error) {
	var def GraphDefinition
	data, err := s.kv.Get(ctx, s.graphMetaKey(name))
	if errors.Is(err, kv.ErrNotFound) {
		return def, fmt.Errorf("%w: %s", ErrUnknownGraph, name)
	}
	if err != nil {
		return def, err
	}
	if err := msgpack.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("docstore: decode graph %s: %w", name, err)
	}
	return def, nil
}

func (s *KVStore) CreateGraph(ctx context.Context, def GraphDefinition) error {
	if !ValidName(def.Name) {
		return fmt.Errorf("docstore: invalid graph name %q", def.Name)
	}
	if len(def.EdgeDefinitions) == 0 {
		return fmt.Errorf("docstore: graph %s has no edge definitions", def.Name)
	}
	return mapErr(s.kv.Update(ctx, func(tx kv.Txn) error {
		if _, err := tx.Get(s.graphMetaKey(def.Name)); err == nil {
			return fmt.Errorf("%w: graph %s", ErrDuplicate, def.Name)
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		for _, ed := range def.EdgeDefinitions {
			info, err := s.readCollection(tx.Get, ed.Collection)
			if err != nil {
				return err
			}
			if !info.Edge {
				return fmt.Errorf("%w: %s is not an edge collection", ErrInvalidEdge, ed.Collection)
			}
			for _, v := range slices.Concat(ed.From, ed.To) {
				if _, err := s.readCollection(tx.Get, v); err != nil {
					return err
				}
			}
		}
		data, err := msgpack.Marshal(def)
		if err != nil {
			return err
		}
		return tx.Set(s.graphMetaKey(def.Name), data)
	}))
}

func (s *KVStore) Traverse(ctx context.Context, graphName string, dir Direction, minDepth, maxDepth int, startID string) (*Cursor, error) {
	def, err := s.Graph(ctx, graphName)
	if err != nil {
		return nil, err
	}
	if _, _, ok := SplitID(startID); !ok {
		return nil, fmt.Errorf("%w: start vertex %q", ErrInvalidKey, startID)
	}
	if dir < Outbound || dir > Any {
		return nil, fmt.Errorf("%w: %d", graph.ErrInvalidDirection, int(dir))
	}
	if minDepth < 0 || maxDepth < minDepth {
		return nil, fmt.Errorf("docstore: invalid depth range %d..%d", minDepth, maxDepth)
	}

	opts := graph.WalkOptions{
		Collections: def.EdgeCollections(),
		Direction:   dir,
		MinDepth:    minDepth,
		MaxDepth:    maxDepth,
	}
	return NewCursor(func(yield func(Document, error) bool) {
		for step, err := range s.adj.Walk(ctx, startID, opts) {
			if err != nil {
				yield(nil, err)
				return
			}
			coll, key, _ := SplitID(step.Vertex)
			doc, err := s.readDoc(s.storeGet(ctx), coll, key)
			if errors.Is(err, ErrNotFound) {
				// Dangling edge: the vertex was removed.
				continue
			}
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}), nil
}

func (s *KVStore) Close() error {
	return s.kv.Close()
}

// --- Collection ---

type kvCollection struct {
	s    *KVStore
	name string
}

func (c *kvCollection) Name() string { return c.name }

func edgeOf(coll, key string, doc Document) (graph.Edge, error) {
	from, to, err := EdgeEndpoints(doc)
	if err != nil {
		return graph.Edge{}, err
	}
	return graph.Edge{Collection: coll, Key: key, From: from, To: to}, nil
}

// checkEndpoints rejects an edge whose _from or _to document is absent.
func (s *KVStore) checkEndpoints(tx kv.Txn, e graph.Edge) error {
	for _, id := range []string{e.From, e.To} {
		coll, key, _ := SplitID(id)
		if _, err := tx.Get(s.docKey(coll, key)); errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidEdge, id)
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (c *kvCollection) writeIndexes(tx kv.Txn, info CollectionInfo, key string, doc Document, set bool) error {
	for _, field := range info.Indexes {
		v, ok := doc[field]
		if !ok {
			continue
		}
		tok, ok := indexToken(v)
		if !ok {
			continue
		}
		k := c.s.idxKey(c.name, field, tok, key)
		var err error
		if set {
			err = tx.Set(k, []byte{})
		} else {
			err = tx.Delete(k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *kvCollection) Get(ctx context.Context, idOrKey string) (Document, error) {
	key, err := ResolveKey(c.name, idOrKey)
	if err != nil {
		return nil, err
	}
	doc, err := c.s.readDoc(c.s.storeGet(ctx), c.name, key)
	if errors.Is(err, ErrNotFound) {
		if ok, herr := c.s.HasCollection(ctx, c.name); herr == nil && !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, c.name)
		}
	}
	return doc, err
}

func (c *kvCollection) Insert(ctx context.Context, doc Document) (Meta, error) {
	d, meta, err := PrepareInsert(c.name, doc)
	if err != nil {
		return Meta{}, err
	}
	key := meta.Key
	err = c.s.kv.Update(ctx, func(tx kv.Txn) error {
		info, err := c.s.readCollection(tx.Get, c.name)
		if err != nil {
			return err
		}
		if _, err := tx.Get(c.s.docKey(c.name, key)); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicate, meta.ID)
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}

		if info.Edge {
			e, err := edgeOf(c.name, key, d)
			if err != nil {
				return err
			}
			if err := c.s.checkEndpoints(tx, e); err != nil {
				return err
			}
			if err := c.s.adj.Link(tx, e); err != nil {
				return err
			}
		}
		data, err := encodeDoc(d)
		if err != nil {
			return err
		}
		if err := tx.Set(c.s.docKey(c.name, key), data); err != nil {
			return err
		}
		return c.writeIndexes(tx, info, key, d, true)
	})
	if err != nil {
		return Meta{}, mapErr(err)
	}
	return meta, nil
}

func (c *kvCollection) Update(ctx context.Context, doc Document, opts ...WriteOption) (Meta, error) {
	o := ApplyWriteOptions(opts)
	key, err := UpdateKey(c.name, doc)
	if err != nil {
		return Meta{}, err
	}

	meta := Meta{ID: JoinID(c.name, key), Key: key, Rev: NewRevision()}
	err = c.s.kv.Update(ctx, func(tx kv.Txn) error {
		info, err := c.s.readCollection(tx.Get, c.name)
		if err != nil {
			return err
		}
		old, err := c.s.readDoc(tx.Get, c.name, key)
		if err != nil {
			return err
		}
		meta.OldRev = old.Rev()
		if o.IfRevision != "" && o.IfRevision != meta.OldRev {
			return fmt.Errorf("%w: %s is at %s, expected %s", ErrConflict, meta.ID, meta.OldRev, o.IfRevision)
		}

		merged := Merge(old, doc, meta.Rev)

		if info.Edge {
			newEdge, err := edgeOf(c.name, key, merged)
			if err != nil {
				return err
			}
			if err := c.s.checkEndpoints(tx, newEdge); err != nil {
				return err
			}
			if oldEdge, err := edgeOf(c.name, key, old); err == nil && oldEdge != newEdge {
				if err := c.s.adj.Unlink(tx, oldEdge); err != nil {
					return err
				}
			}
			if err := c.s.adj.Link(tx, newEdge); err != nil {
				return err
			}
		}
		if err := c.writeIndexes(tx, info, key, old, false); err != nil {
			return err
		}
		data, err := encodeDoc(merged)
		if err != nil {
			return err
		}
		if err := tx.Set(c.s.docKey(c.name, key), data); err != nil {
			return err
		}
		return c.writeIndexes(tx, info, key, merged, true)
	})
	if err != nil {
		return Meta{}, mapErr(err)
	}
	return meta, nil
}

func (c *kvCollection) Remove(ctx context.Context, idOrKey string) error {
	key, err := ResolveKey(c.name, idOrKey)
	if err != nil {
		return err
	}
	return mapErr(c.s.kv.Update(ctx, func(tx kv.Txn) error {
		info, err := c.s.readCollection(tx.Get, c.name)
		if err != nil {
			return err
		}
		old, err := c.s.readDoc(tx.Get, c.name, key)
		if err != nil {
			return err
		}
		if info.Edge {
			if e, err := edgeOf(c.name, key, old); err == nil {
				if err := c.s.adj.Unlink(tx, e); err != nil {
					return err
				}
			}
		}
		if err := c.writeIndexes(tx, info, key, old, false); err != nil {
			return err
		}
		return tx.Delete(c.s.docKey(c.name, key))
	}))
}

func (c *kvCollection) Find(ctx context.Context, filter map[string]any) *Cursor {
	return NewCursor(func(yield func(Document, error) bool) {
		info, err := c.s.CollectionInfo(ctx, c.name)
		if err != nil {
			yield(nil, err)
			return
		}

		// Prefer the first indexed filter field, in name order.
		fields := make([]string, 0, len(filter))
		for f := range filter {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if !slices.Contains(info.Indexes, f) {
				continue
			}
			tok, ok := indexToken(filter[f])
			if !ok {
				continue
			}
			prefix := c.s.root.Append("idx", c.name, f, tok)
			for entry, err := range c.s.kv.List(ctx, prefix) {
				if err != nil {
					yield(nil, err)
					return
				}
				key := entry.Key[len(entry.Key)-1]
				doc, err := c.s.readDoc(c.s.storeGet(ctx), c.name, key)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					yield(nil, err)
					return
				}
				if Matches(doc, filter) && !yield(doc, nil) {
					return
				}
			}
			return
		}

		for entry, err := range c.s.kv.List(ctx, c.s.docPrefix(c.name)) {
			if err != nil {
				yield(nil, err)
				return
			}
			doc, err := decodeDoc(entry.Value)
			if err != nil {
				yield(nil, err)
				return
			}
			if Matches(doc, filter) && !yield(doc, nil) {
				return
			}
		}
	})
}
