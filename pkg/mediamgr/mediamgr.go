// Package mediamgr is the typed layer over the document store: Cast, Media
// and Face vertices, AppearsIn and FaceMatchesFace edges, and the producer
// API used by ingestion.
package mediamgr

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/entity"
	"github.com/haivivi/mediamgr/pkg/query"
	"github.com/haivivi/mediamgr/pkg/schema"
)

// Manager ties a store to a registry and a query catalog.
type Manager struct {
	store docstore.Store
	reg   *schema.Registry
	exec  *query.Executor
	log   *slog.Logger
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	reg     *schema.Registry
	catalog *query.Catalog
	log     *slog.Logger
}

// WithRegistry replaces the built-in registry.
func WithRegistry(r *schema.Registry) Option {
	return func(o *options) { o.reg = r }
}

// WithCatalog replaces the built-in query catalog.
func WithCatalog(c *query.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithLogger sets the logger used by Provision. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns a Manager over store. The caller keeps ownership of store.
func New(store docstore.Store, opts ...Option) *Manager {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = schema.Default()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Manager{
		store: store,
		reg:   o.reg,
		exec:  query.NewExecutor(store, o.catalog),
		log:   o.log,
	}
}

// Store returns the underlying store.
func (m *Manager) Store() docstore.Store { return m.store }

// Registry returns the schema registry.
func (m *Manager) Registry() *schema.Registry { return m.reg }

// Executor returns the query executor.
func (m *Manager) Executor() *query.Executor { return m.exec }

func (m *Manager) bind(kind entity.Kind) *entity.Entity {
	return entity.Bind(m.store, m.reg, kind)
}

// Entity returns an unbound entity for any registry collection, carrying
// the collection's built-in kind checks.
func (m *Manager) Entity(collection string) (*entity.Entity, error) {
	if !m.reg.Has(collection) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrUnknownCollection, collection)
	}
	return m.bind(KindFor(collection)), nil
}

// Provision creates every registry collection, index and graph that does
// not exist yet. It is safe to run on every start.
func (m *Manager) Provision(ctx context.Context) error {
	for _, c := range m.reg.Collections() {
		ok, err := m.store.HasCollection(ctx, c.Name)
		if err != nil {
			return fmt.Errorf("provision %s: %w", c.Name, err)
		}
		if !ok {
			err := m.store.CreateCollection(ctx, c.Name, docstore.CollectionOptions{Edge: c.Edge})
			if err != nil && !errors.Is(err, docstore.ErrDuplicate) {
				return fmt.Errorf("provision %s: %w", c.Name, err)
			}
			m.log.Info("created collection", "name", c.Name, "edge", c.Edge)
		}
		for _, f := range c.Indexes {
			if err := m.store.EnsureIndex(ctx, c.Name, f); err != nil {
				return fmt.Errorf("provision index %s.%s: %w", c.Name, f, err)
			}
			m.log.Debug("index ready", "collection", c.Name, "field", f)
		}
	}
	for _, g := range m.reg.Graphs() {
		ok, err := m.store.HasGraph(ctx, g.Name)
		if err != nil {
			return fmt.Errorf("provision graph %s: %w", g.Name, err)
		}
		if ok {
			continue
		}
		if err := m.store.CreateGraph(ctx, g); err != nil && !errors.Is(err, docstore.ErrDuplicate) {
			return fmt.Errorf("provision graph %s: %w", g.Name, err)
		}
		m.log.Info("created graph", "name", g.Name, "edges", g.EdgeCollections())
	}
	return nil
}

// FaceKey returns the key under which a face identifier is stored: the hex
// md5 of the identifier. Identical identifiers collide; near-identical ones
// do not.
func FaceKey(faceIdentifier string) string {
	sum := md5.Sum([]byte(faceIdentifier))
	return hex.EncodeToString(sum[:])
}

// AddMedia saves a media item with the given metadata and returns its id.
// An empty key lets the store generate one.
func (m *Manager) AddMedia(ctx context.Context, key string, metadata map[string]any) (string, error) {
	md := m.NewMedia().NewFromTemplate()
	if key != "" {
		md.SetKey(key)
	}
	if metadata != nil {
		md.Set("metadata", metadata)
	}
	meta, err := md.Save(ctx)
	if err != nil {
		return "", err
	}
	return meta.ID, nil
}

// AddFace saves a face and returns its id. If a face with the same
// identifier already exists, nothing is written and created is false.
func (m *Manager) AddFace(ctx context.Context, faceIdentifier, mediaID, castID string) (id string, created bool, err error) {
	f := m.NewFace().NewFromTemplate()
	key := FaceKey(faceIdentifier)
	f.SetKey(key)
	f.Set("face_identifier", faceIdentifier)
	f.Set("media_id", mediaID)
	f.Set("cast_id", castID)
	meta, err := f.Save(ctx)
	if errors.Is(err, docstore.ErrDuplicate) {
		return docstore.JoinID(CollFaces, key), false, nil
	}
	if err != nil {
		return "", false, err
	}
	return meta.ID, true, nil
}

// LinkAppearsIn saves an appears_in edge between two existing ids.
func (m *Manager) LinkAppearsIn(ctx context.Context, castID, mediaID string, opts ...EdgeOption) (docstore.Meta, error) {
	return m.NewAppearsIn(castID, mediaID, opts...).Save(ctx)
}

// LinkFaces saves a face_matches_face edge between two existing ids.
func (m *Manager) LinkFaces(ctx context.Context, faceID, otherID string, opts ...EdgeOption) (docstore.Meta, error) {
	return m.NewFaceMatchesFace(faceID, otherID, opts...).Save(ctx)
}
