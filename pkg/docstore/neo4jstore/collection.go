package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

type collection struct {
	s    *Store
	name string
}

func (c *collection) Name() string { return c.name }

// matchAll binds every document of coll to n.
func matchAll(coll string, edge bool) string {
	if edge {
		return fmt.Sprintf("MATCH ()-[n:%s]->()", quote(coll))
	}
	return fmt.Sprintf("MATCH (n:%s)", quote(coll))
}

// matchByKey binds the document of coll whose key is the Cypher expression
// keyExpr to n.
func matchByKey(coll string, edge bool, keyExpr string) string {
	if edge {
		return fmt.Sprintf("MATCH ()-[n:%s {mm_key: %s}]->()", quote(coll), keyExpr)
	}
	return fmt.Sprintf("MATCH (n:%s {mm_key: %s})", quote(coll), keyExpr)
}

// scalarParam converts a document value to a Neo4j property value. Only
// scalars are stored as properties; nil is absent in Neo4j.
func scalarParam(v any) (any, bool) {
	switch x := v.(type) {
	case string, bool:
		return x, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return nil, false
}

// props builds the property map stored on a node or relationship.
func props(info docstore.CollectionInfo, d docstore.Document) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: encode document: %w", err)
	}
	p := map[string]any{
		"mm_key": d.Key(),
		"mm_id":  d.ID(),
		"mm_rev": d.Rev(),
		"mm_doc": string(raw),
	}
	for _, f := range info.Indexes {
		if v, ok := scalarParam(d[f]); ok {
			p[f] = v
		}
	}
	return p, nil
}

func (c *collection) load(ctx context.Context, tx neo4j.ManagedTransaction, edge bool, key string) (docstore.Document, error) {
	rec, err := first(ctx, tx, matchByKey(c.name, edge, "$key")+" RETURN n.mm_doc AS doc", map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, docstore.JoinID(c.name, key))
	}
	return recordDoc(rec)
}

func (c *collection) Get(ctx context.Context, idOrKey string) (docstore.Document, error) {
	key, err := docstore.ResolveKey(c.name, idOrKey)
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	err = c.s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		info, err := c.s.readCollection(ctx, tx, c.name)
		if err != nil {
			return err
		}
		doc, err = c.load(ctx, tx, info.Edge, key)
		return err
	})
	return doc, err
}

// createEdge creates the relationship for an edge document. Both endpoint
// vertices must exist.
func (c *collection) createEdge(ctx context.Context, tx neo4j.ManagedTransaction, d docstore.Document, p map[string]any) error {
	from, to, err := docstore.EdgeEndpoints(d)
	if err != nil {
		return err
	}
	fromColl, _, _ := docstore.SplitID(from)
	toColl, _, _ := docstore.SplitID(to)
	q := fmt.Sprintf("MATCH (a:%s {mm_id: $from}) MATCH (b:%s {mm_id: $to}) CREATE (a)-[n:%s]->(b) SET n = $props RETURN n.mm_key",
		quote(fromColl), quote(toColl), quote(c.name))
	rec, err := first(ctx, tx, q, map[string]any{"from": from, "to": to, "props": p})
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: endpoint vertex of %s -> %s not found", docstore.ErrInvalidEdge, from, to)
	}
	return nil
}

func (c *collection) Insert(ctx context.Context, doc docstore.Document) (docstore.Meta, error) {
	d, meta, err := docstore.PrepareInsert(c.name, doc)
	if err != nil {
		return docstore.Meta{}, err
	}
	err = c.s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		info, err := c.s.readCollection(ctx, tx, c.name)
		if err != nil {
			return err
		}
		if _, err := c.load(ctx, tx, info.Edge, meta.Key); err == nil {
			return fmt.Errorf("%w: %s", docstore.ErrDuplicate, meta.ID)
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		p, err := props(info, d)
		if err != nil {
			return err
		}
		if info.Edge {
			return c.createEdge(ctx, tx, d, p)
		}
		_, err = tx.Run(ctx, fmt.Sprintf("CREATE (n:%s) SET n = $props", quote(c.name)), map[string]any{"props": p})
		return err
	})
	if err != nil {
		return docstore.Meta{}, err
	}
	return meta, nil
}

func (c *collection) Update(ctx context.Context, doc docstore.Document, opts ...docstore.WriteOption) (docstore.Meta, error) {
	o := docstore.ApplyWriteOptions(opts)
	key, err := docstore.UpdateKey(c.name, doc)
	if err != nil {
		return docstore.Meta{}, err
	}
	meta := docstore.Meta{ID: docstore.JoinID(c.name, key), Key: key, Rev: docstore.NewRevision()}
	err = c.s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		info, err := c.s.readCollection(ctx, tx, c.name)
		if err != nil {
			return err
		}
		old, err := c.load(ctx, tx, info.Edge, key)
		if err != nil {
			return err
		}
		meta.OldRev = old.Rev()
		if o.IfRevision != "" && o.IfRevision != meta.OldRev {
			return fmt.Errorf("%w: %s is at %s, expected %s", docstore.ErrConflict, meta.ID, meta.OldRev, o.IfRevision)
		}
		merged := docstore.Merge(old, doc, meta.Rev)
		p, err := props(info, merged)
		if err != nil {
			return err
		}

		if info.Edge {
			oldFrom, oldTo, _ := docstore.EdgeEndpoints(old)
			newFrom, newTo, err := docstore.EdgeEndpoints(merged)
			if err != nil {
				return err
			}
			if oldFrom != newFrom || oldTo != newTo {
				// Relationships cannot be re-pointed; replace it.
				if _, err := tx.Run(ctx, matchByKey(c.name, true, "$key")+" DELETE n", map[string]any{"key": key}); err != nil {
					return err
				}
				return c.createEdge(ctx, tx, merged, p)
			}
		}
		_, err = tx.Run(ctx, matchByKey(c.name, info.Edge, "$key")+" SET n = $props",
			map[string]any{"key": key, "props": p})
		return err
	})
	if err != nil {
		return docstore.Meta{}, err
	}
	return meta, nil
}

func (c *collection) Remove(ctx context.Context, idOrKey string) error {
	key, err := docstore.ResolveKey(c.name, idOrKey)
	if err != nil {
		return err
	}
	return c.s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		info, err := c.s.readCollection(ctx, tx, c.name)
		if err != nil {
			return err
		}
		if _, err := c.load(ctx, tx, info.Edge, key); err != nil {
			return err
		}
		del := " DETACH DELETE n"
		if info.Edge {
			del = " DELETE n"
		}
		_, err = tx.Run(ctx, matchByKey(c.name, info.Edge, "$key")+del, map[string]any{"key": key})
		return err
	})
}

// findQuery builds the Cypher for Find. Indexed scalar filter fields are
// pushed into the WHERE clause; the full filter is re-checked client side.
func findQuery(info docstore.CollectionInfo, filter map[string]any) (string, map[string]any) {
	q := matchAll(info.Name, info.Edge)
	params := map[string]any{}

	fields := make([]string, 0, len(filter))
	for f := range filter {
		if slices.Contains(info.Indexes, f) {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	var conds []string
	for _, f := range fields {
		v, ok := scalarParam(filter[f])
		if !ok {
			continue
		}
		p := fmt.Sprintf("p%d", len(conds))
		conds = append(conds, fmt.Sprintf("n.%s = $%s", quote(f), p))
		params[p] = v
	}
	for i, cond := range conds {
		if i == 0 {
			q += " WHERE " + cond
		} else {
			q += " AND " + cond
		}
	}
	return q + " RETURN n.mm_doc AS doc", params
}

func (c *collection) Find(ctx context.Context, filter map[string]any) *docstore.Cursor {
	info, err := c.s.CollectionInfo(ctx, c.name)
	if err != nil {
		return docstore.ErrCursor(err)
	}
	q, params := findQuery(info, filter)
	if len(filter) == 0 {
		filter = nil
	}
	return c.s.stream(ctx, q, params, filter)
}
