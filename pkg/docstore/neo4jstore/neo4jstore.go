// Package neo4jstore implements docstore.Store on a Neo4j server.
//
// Vertex documents are nodes labelled with their collection name; edge
// documents are relationships typed with their edge collection name. Each
// node or relationship carries mm_key, mm_id, mm_rev, the JSON-encoded
// document in mm_doc, and a copy of every indexed field so equality lookups
// can use Neo4j indexes. Collection and graph definitions are stored as
// MediamgrCollection and MediamgrGraph nodes.
//
// Unlike the kv backend, an edge can only be created between existing
// vertices, and removing a vertex removes its edges.
package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

// Options configures Open.
type Options struct {
	// URI is the bolt/neo4j URI, e.g. "neo4j://localhost:7687". Required.
	URI      string
	Username string
	Password string

	// Database selects the Neo4j database; empty uses the server default.
	Database string

	// Timeout bounds connection setup. Defaults to 10s.
	Timeout time.Duration
}

// Store is a docstore.Store backed by Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ docstore.Store = (*Store)(nil)

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("neo4jstore: Options.URI is required")
	}
	user := opts.Username
	if user == "" {
		user = "neo4j"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(user, opts.Password, ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: init driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jstore: verify connectivity: %w", err)
	}
	return New(driver, opts.Database), nil
}

// New wraps an existing driver. The Store takes ownership of driver.
func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return mapErr(err)
}

func (s *Store) read(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)
	_, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return mapErr(err)
}

// schema runs a schema statement in its own auto-commit transaction; Neo4j
// does not allow schema and data changes in one transaction.
func (s *Store) schema(ctx context.Context, cypher string) error {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

func mapErr(err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == constraintViolation {
		return fmt.Errorf("%w: %w", docstore.ErrDuplicate, err)
	}
	return err
}

// first runs cypher and returns its first record, if any.
func first(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if res.Next(ctx) {
		return res.Record(), nil
	}
	return nil, res.Err()
}

// quote backquotes a label, relationship type or property name. Names are
// validated with docstore.ValidName before they reach here.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// --- provisioning ---

func (s *Store) readCollection(ctx context.Context, tx neo4j.ManagedTransaction, name string) (docstore.CollectionInfo, error) {
	rec, err := first(ctx, tx, `MATCH (c:MediamgrCollection {name: $name}) RETURN c.edge AS edge, c.indexes AS indexes`, map[string]any{"name": name})
	if err != nil {
		return docstore.CollectionInfo{}, err
	}
	if rec == nil {
		return docstore.CollectionInfo{}, fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, name)
	}
	info := docstore.CollectionInfo{Name: name}
	if v, ok := rec.Get("edge"); ok {
		info.Edge, _ = v.(bool)
	}
	if v, ok := rec.Get("indexes"); ok {
		if list, ok := v.([]any); ok {
			for _, f := range list {
				if s, ok := f.(string); ok {
					info.Indexes = append(info.Indexes, s)
				}
			}
		}
	}
	return info, nil
}

func (s *Store) CollectionInfo(ctx context.Context, name string) (docstore.CollectionInfo, error) {
	var info docstore.CollectionInfo
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		var err error
		info, err = s.readCollection(ctx, tx, name)
		return err
	})
	return info, err
}

func (s *Store) HasCollection(ctx context.Context, name string) (bool, error) {
	_, err := s.CollectionInfo(ctx, name)
	if errors.Is(err, docstore.ErrUnknownCollection) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CreateCollection(ctx context.Context, name string, opts docstore.CollectionOptions) error {
	if !docstore.ValidName(name) {
		return fmt.Errorf("neo4jstore: invalid collection name %q", name)
	}
	err := s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		rec, err := first(ctx, tx, `MATCH (c:MediamgrCollection {name: $name}) RETURN c.name`, map[string]any{"name": name})
		if err != nil {
			return err
		}
		if rec != nil {
			return fmt.Errorf("%w: collection %s", docstore.ErrDuplicate, name)
		}
		_, err = tx.Run(ctx, `CREATE (:MediamgrCollection {name: $name, edge: $edge, indexes: []})`,
			map[string]any{"name": name, "edge": opts.Edge})
		return err
	})
	if err != nil {
		return err
	}
	return s.schema(ctx, keyConstraint(name, opts.Edge))
}

func keyConstraint(coll string, edge bool) string {
	cname := quote("mediamgr_" + coll + "_key")
	if edge {
		return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR ()-[r:%s]-() REQUIRE r.mm_key IS UNIQUE", cname, quote(coll))
	}
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.mm_key IS UNIQUE", cname, quote(coll))
}

func fieldIndex(coll, field string, edge bool) string {
	iname := quote("mediamgr_" + coll + "_" + field)
	if edge {
		return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR ()-[r:%s]-() ON (r.%s)", iname, quote(coll), quote(field))
	}
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)", iname, quote(coll), quote(field))
}

func (s *Store) EnsureIndex(ctx context.Context, collection, field string) error {
	if !docstore.ValidName(field) || strings.HasPrefix(field, "_") || strings.HasPrefix(field, "mm_") {
		return fmt.Errorf("neo4jstore: invalid index field %q", field)
	}
	info, err := s.CollectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	if slices.Contains(info.Indexes, field) {
		return nil
	}
	if err := s.schema(ctx, fieldIndex(collection, field, info.Edge)); err != nil {
		return err
	}

	// Record the index and copy the field onto existing documents.
	match := matchAll(collection, info.Edge)
	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx, match+` RETURN n.mm_key AS key, n.mm_doc AS doc`, nil)
		if err != nil {
			return err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return err
		}
		var rows []map[string]any
		for _, rec := range recs {
			doc, err := recordDoc(rec)
			if err != nil {
				return err
			}
			if v, ok := scalarParam(doc[field]); ok {
				key, _ := rec.Get("key")
				rows = append(rows, map[string]any{"key": key, "props": map[string]any{field: v}})
			}
		}
		if len(rows) > 0 {
			_, err = tx.Run(ctx, `UNWIND $rows AS row `+matchByKey(collection, info.Edge, "row.key")+` SET n += row.props`,
				map[string]any{"rows": rows})
			if err != nil {
				return err
			}
		}
		_, err = tx.Run(ctx, `MATCH (c:MediamgrCollection {name: $name}) SET c.indexes = c.indexes + $field`,
			map[string]any{"name": collection, "field": field})
		return err
	})
}

func (s *Store) Graph(ctx context.Context, name string) (docstore.GraphDefinition, error) {
	var def docstore.GraphDefinition
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		rec, err := first(ctx, tx, `MATCH (g:MediamgrGraph {name: $name}) RETURN g.def AS def`, map[string]any{"name": name})
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s", docstore.ErrUnknownGraph, name)
		}
		raw, _ := rec.Get("def")
		str, _ := raw.(string)
		return json.Unmarshal([]byte(str), &def)
	})
	return def, err
}

func (s *Store) HasGraph(ctx context.Context, name string) (bool, error) {
	_, err := s.Graph(ctx, name)
	if errors.Is(err, docstore.ErrUnknownGraph) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CreateGraph(ctx context.Context, def docstore.GraphDefinition) error {
	if !docstore.ValidName(def.Name) {
		return fmt.Errorf("neo4jstore: invalid graph name %q", def.Name)
	}
	if len(def.EdgeDefinitions) == 0 {
		return fmt.Errorf("neo4jstore: graph %s has no edge definitions", def.Name)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		rec, err := first(ctx, tx, `MATCH (g:MediamgrGraph {name: $name}) RETURN g.name`, map[string]any{"name": def.Name})
		if err != nil {
			return err
		}
		if rec != nil {
			return fmt.Errorf("%w: graph %s", docstore.ErrDuplicate, def.Name)
		}
		for _, ed := range def.EdgeDefinitions {
			info, err := s.readCollection(ctx, tx, ed.Collection)
			if err != nil {
				return err
			}
			if !info.Edge {
				return fmt.Errorf("%w: %s is not an edge collection", docstore.ErrInvalidEdge, ed.Collection)
			}
			for _, v := range slices.Concat(ed.From, ed.To) {
				if _, err := s.readCollection(ctx, tx, v); err != nil {
					return err
				}
			}
		}
		_, err = tx.Run(ctx, `CREATE (:MediamgrGraph {name: $name, def: $def})`, map[string]any{"name": def.Name, "def": string(raw)})
		return err
	})
}

// --- traversal ---

// traversalQuery builds the Cypher for a variable-length walk over the given
// relationship types.
func traversalQuery(startColl string, types []string, dir docstore.Direction, minDepth, maxDepth int) (string, error) {
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = quote(t)
	}
	rel := fmt.Sprintf("[:%s*%d..%d]", strings.Join(quoted, "|"), minDepth, maxDepth)
	var pattern string
	switch dir {
	case docstore.Outbound:
		pattern = "(s)-" + rel + "->(v)"
	case docstore.Inbound:
		pattern = "(s)<-" + rel + "-(v)"
	case docstore.Any:
		pattern = "(s)-" + rel + "-(v)"
	default:
		return "", fmt.Errorf("neo4jstore: invalid direction %d", int(dir))
	}
	q := fmt.Sprintf("MATCH (s:%s {mm_id: $start}) MATCH p = %s", quote(startColl), pattern)
	if minDepth > 0 {
		// A one-hop path back to s is a self-loop.
		q += " WHERE v <> s OR length(p) = 1"
	}
	return q + " RETURN DISTINCT v.mm_doc AS doc", nil
}

func (s *Store) Traverse(ctx context.Context, graphName string, dir docstore.Direction, minDepth, maxDepth int, startID string) (*docstore.Cursor, error) {
	def, err := s.Graph(ctx, graphName)
	if err != nil {
		return nil, err
	}
	startColl, _, ok := docstore.SplitID(startID)
	if !ok || !docstore.ValidName(startColl) {
		return nil, fmt.Errorf("%w: start vertex %q", docstore.ErrInvalidKey, startID)
	}
	if minDepth < 0 || maxDepth < minDepth {
		return nil, fmt.Errorf("neo4jstore: invalid depth range %d..%d", minDepth, maxDepth)
	}
	q, err := traversalQuery(startColl, def.EdgeCollections(), dir, minDepth, maxDepth)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, q, map[string]any{"start": startID}, nil), nil
}

// stream runs cypher in an auto-commit read session and yields the decoded
// "doc" column lazily. The session stays open until the cursor is exhausted
// or closed.
func (s *Store) stream(ctx context.Context, cypher string, params map[string]any, filter map[string]any) *docstore.Cursor {
	return docstore.NewCursor(func(yield func(docstore.Document, error) bool) {
		sess := s.session(ctx, neo4j.AccessModeRead)
		defer sess.Close(ctx)
		res, err := sess.Run(ctx, cypher, params)
		if err != nil {
			yield(nil, err)
			return
		}
		for res.Next(ctx) {
			doc, err := recordDoc(res.Record())
			if err != nil {
				yield(nil, err)
				return
			}
			if filter != nil && !docstore.Matches(doc, filter) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := res.Err(); err != nil {
			yield(nil, err)
		}
	})
}

func recordDoc(rec *neo4j.Record) (docstore.Document, error) {
	raw, _ := rec.Get("doc")
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("neo4jstore: record has no document")
	}
	return decodeDoc(str)
}

// decodeDoc decodes a stored mm_doc. Integral numbers come back as int64
// and the rest as float64, so large integers keep their precision.
func decodeDoc(str string) (docstore.Document, error) {
	dec := json.NewDecoder(strings.NewReader(str))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("neo4jstore: decode document: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	for k, v := range m {
		m[k] = numbers(v)
	}
	return docstore.Document(m), nil
}

// numbers replaces json.Number values in v, recursively.
func numbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = numbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = numbers(e)
		}
	}
	return v
}

func (s *Store) Collection(name string) docstore.Collection {
	return &collection{s: s, name: name}
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}
