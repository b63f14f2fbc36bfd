package entity_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/entity"
	"github.com/haivivi/mediamgr/pkg/kv"
	"github.com/haivivi/mediamgr/pkg/schema"
)

var (
	castKind = entity.Kind{
		Collection: "cast",
		Checks: []entity.Check{{
			Message: "refs must be a list",
			Pred: func(d docstore.Document) bool {
				_, ok := d["refs"].([]any)
				return ok
			},
		}},
	}
	mediaKind  = entity.Kind{Collection: "media"}
	appearsIn  = entity.Kind{Collection: "appears_in"}
	facesMatch = entity.Kind{Collection: "face_matches_face"}
)

// newTestStore provisions every registry collection and graph on an
// in-memory store.
func newTestStore(t *testing.T, reg *schema.Registry) docstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := docstore.Open(kv.NewMemory(nil), "entity")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	for _, c := range reg.Collections() {
		if err := s.CreateCollection(ctx, c.Name, docstore.CollectionOptions{Edge: c.Edge}); err != nil {
			t.Fatalf("CreateCollection %s: %v", c.Name, err)
		}
		for _, f := range c.Indexes {
			if err := s.EnsureIndex(ctx, c.Name, f); err != nil {
				t.Fatalf("EnsureIndex %s.%s: %v", c.Name, f, err)
			}
		}
	}
	for _, g := range reg.Graphs() {
		if err := s.CreateGraph(ctx, g); err != nil {
			t.Fatalf("CreateGraph %s: %v", g.Name, err)
		}
	}
	return s
}

func setup(t *testing.T) (docstore.Store, *schema.Registry) {
	t.Helper()
	reg := schema.Default()
	return newTestStore(t, reg), reg
}

func saved(t *testing.T, e *entity.Entity) docstore.Meta {
	t.Helper()
	m, err := e.Save(context.Background())
	if err != nil {
		t.Fatalf("Save %s: %v", e.Collection(), err)
	}
	return m
}

func TestBindUnknownCollectionPanics(t *testing.T) {
	s, reg := setup(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	entity.Bind(s, reg, entity.Kind{Collection: "nope"})
}

func TestTemplateValidates(t *testing.T) {
	s, reg := setup(t)
	for _, name := range reg.Names() {
		e := entity.Bind(s, reg, entity.Kind{Collection: name}).NewFromTemplate()
		if err := e.Validate(); err != nil {
			t.Errorf("%s template: %v", name, err)
		}
		if e.ID() != "" || e.Key() != "" || e.Rev() != "" {
			t.Errorf("%s template has identity", name)
		}
	}
}

func TestUnboundValidate(t *testing.T) {
	s, reg := setup(t)
	e := entity.Bind(s, reg, castKind)
	if err := e.Validate(); !errors.Is(err, entity.ErrValidationFailed) {
		t.Errorf("Validate() = %v", err)
	}
	if _, err := e.Save(context.Background()); !errors.Is(err, entity.ErrValidationFailed) {
		t.Errorf("Save() = %v", err)
	}
}

func TestSetPayload(t *testing.T) {
	s, reg := setup(t)
	e := entity.Bind(s, reg, castKind)

	if err := e.SetPayload([]string{"x"}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Errorf("non-map payload err = %v", err)
	}

	doc := map[string]any{"_id": "cast/7", "_key": "7", "_rev": "r1", "name": "n", "refs": []any{}}
	if err := e.SetPayload(doc); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if e.ID() != "cast/7" || e.Key() != "7" || e.Rev() != "r1" {
		t.Errorf("identity = %q %q %q", e.ID(), e.Key(), e.Rev())
	}

	err := e.SetPayload(docstore.Document{"name": "n", "refs": "nope"})
	if !errors.Is(err, entity.ErrValidationFailed) || !strings.Contains(err.Error(), "refs") {
		t.Errorf("invalid payload err = %v", err)
	}
	if e.ID() != "cast/7" || e.Get("name") != "n" {
		t.Error("rejected payload changed the entity")
	}

	if err := e.SetPayload(docstore.Document{"name": "m", "refs": []any{}}); err != nil {
		t.Fatal(err)
	}
	if e.ID() != "" || e.Key() != "" || e.Rev() != "" {
		t.Error("identity not cleared for payload without identity fields")
	}
}

func TestKindChecksRunInOrder(t *testing.T) {
	s, reg := setup(t)
	var ran []string
	kind := entity.Kind{
		Collection: "media",
		Required:   []string{"source"},
		Checks: []entity.Check{
			{Message: "first", Pred: func(docstore.Document) bool { ran = append(ran, "first"); return true }},
			{Message: "second", Pred: func(docstore.Document) bool { ran = append(ran, "second"); return false }},
			{Message: "third", Pred: func(docstore.Document) bool { ran = append(ran, "third"); return false }},
		},
	}
	e := entity.Bind(s, reg, kind)

	err := e.ValidateDocument(map[string]any{"metadata": map[string]any{}})
	if !errors.Is(err, entity.ErrValidationFailed) || !strings.Contains(err.Error(), `"source"`) {
		t.Errorf("missing required err = %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("checks ran before required fields: %v", ran)
	}

	err = e.ValidateDocument(map[string]any{"metadata": map[string]any{}, "source": "x"})
	if !errors.Is(err, entity.ErrValidationFailed) || !strings.Contains(err.Error(), "second") {
		t.Errorf("check err = %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"first", "second"}) {
		t.Errorf("ran = %v", ran)
	}
	if err := e.ValidateDocument(42); !errors.Is(err, entity.ErrValidationFailed) {
		t.Errorf("non-map err = %v", err)
	}
}

func TestSaveInsertThenUpdate(t *testing.T) {
	s, reg := setup(t)
	ctx := context.Background()

	c := entity.Bind(s, reg, castKind)
	c.SetKey("1000")
	if c.ID() != "" {
		t.Error("SetKey assigned an id")
	}
	m1 := saved(t, c)
	if m1.ID != "cast/1000" || m1.Key != "1000" || m1.Rev == "" {
		t.Fatalf("insert meta = %+v", m1)
	}
	if c.ID() != m1.ID || c.Rev() != m1.Rev || c.Document().Rev() != m1.Rev || c.Document().ID() != m1.ID {
		t.Error("identity not written back after insert")
	}
	if err := c.RequireIdentity(); err != nil {
		t.Errorf("RequireIdentity after save: %v", err)
	}

	c.Set("name", "foo")
	m2 := saved(t, c)
	if m2.ID != m1.ID || m2.Rev == m1.Rev || m2.OldRev != m1.Rev {
		t.Fatalf("update meta = %+v (first %+v)", m2, m1)
	}

	l := entity.Bind(s, reg, castKind)
	if err := l.Load(ctx, "1000"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(l.Document(), c.Document()) {
		t.Errorf("loaded %v, saved %v", l.Document(), c.Document())
	}
	if l.Rev() != m2.Rev {
		t.Errorf("loaded rev %q, want %q", l.Rev(), m2.Rev)
	}
}

func TestSaveStaleRevision(t *testing.T) {
	s, reg := setup(t)
	ctx := context.Background()

	a := entity.Bind(s, reg, castKind)
	a.SetKey("1")
	saved(t, a)

	b := entity.Bind(s, reg, castKind)
	if err := b.Load(ctx, "cast/1"); err != nil {
		t.Fatal(err)
	}
	b.Set("name", "b")
	saved(t, b)

	a.Set("name", "a")
	_, err := a.Save(ctx)
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("stale save err = %v, want ErrConflict", err)
	}
	if a.Document().Rev() == "" {
		t.Error("failed save dropped the revision from the payload")
	}
}

func TestSaveValidationPreventsWrite(t *testing.T) {
	s, reg := setup(t)
	ctx := context.Background()

	c := entity.Bind(s, reg, castKind)
	c.SetKey("bad")
	c.Set("refs", map[string]any{})
	if _, err := c.Save(ctx); !errors.Is(err, entity.ErrValidationFailed) {
		t.Fatalf("Save err = %v", err)
	}
	if _, err := s.Collection("cast").Get(ctx, "bad"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("document written despite validation failure: %v", err)
	}
}

func TestRequireIdentity(t *testing.T) {
	s, reg := setup(t)
	e := entity.Bind(s, reg, castKind).NewFromTemplate()
	err := e.RequireIdentity()
	if !errors.Is(err, entity.ErrPreconditionFailed) || !strings.Contains(err.Error(), "has this entity ever been saved or loaded?") {
		t.Errorf("RequireIdentity = %v", err)
	}
}

func TestLoad(t *testing.T) {
	s, reg := setup(t)
	ctx := context.Background()
	e := entity.Bind(s, reg, mediaKind)

	if err := e.Load(ctx, []string{"a", "b"}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Errorf("Load(list) = %v", err)
	}
	if err := e.Load(ctx, "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Load(missing) = %v", err)
	}
}

func TestEdgeSave(t *testing.T) {
	s, reg := setup(t)
	ctx := context.Background()

	c := entity.Bind(s, reg, castKind)
	c.SetKey("1")
	saved(t, c)
	m := entity.Bind(s, reg, mediaKind)
	m.SetKey("2")
	saved(t, m)

	tests := []struct {
		name     string
		from, to string
	}{
		{"missing from", "", "media/2"},
		{"missing to", "cast/1", ""},
		{"wrong from collection", "media/2", "media/2"},
		{"wrong to collection", "cast/1", "cast/1"},
		{"malformed", "cast", "media/2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entity.Bind(s, reg, appearsIn).NewFromTemplate()
			e.Set(docstore.FieldFrom, tt.from)
			e.Set(docstore.FieldTo, tt.to)
			if _, err := e.Save(ctx); !errors.Is(err, entity.ErrValidationFailed) {
				t.Errorf("Save err = %v", err)
			}
		})
	}

	e := entity.Bind(s, reg, appearsIn).NewFromTemplate()
	e.Set(docstore.FieldFrom, c.ID())
	e.Set(docstore.FieldTo, m.ID())
	meta := saved(t, e)
	if !strings.HasPrefix(meta.ID, "appears_in/") {
		t.Errorf("edge id = %q", meta.ID)
	}

	cur, err := s.Traverse(ctx, "casting_graph", docstore.Outbound, 1, 1, c.ID())
	if err != nil {
		t.Fatal(err)
	}
	docs, err := cur.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID() != m.ID() {
		t.Errorf("traverse = %v", docs)
	}
}

func TestEdgeEndpointsCheckedOnSave(t *testing.T) {
	s, reg := setup(t)
	e := entity.Bind(s, reg, appearsIn).NewFromTemplate()
	e.Set(docstore.FieldFrom, "media/2")
	e.Set(docstore.FieldTo, "cast/1")
	e.Set("first_seen", "0")
	e.Set("last_seen", "9")
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
	if _, err := e.Save(context.Background()); !errors.Is(err, entity.ErrValidationFailed) {
		t.Errorf("Save with reversed endpoints = %v", err)
	}
}

func TestEdgeRequiredAttributes(t *testing.T) {
	s, reg := setup(t)
	e := entity.Bind(s, reg, facesMatch)
	err := e.SetPayload(map[string]any{"_from": "faces/1", "_to": "faces/2"})
	if !errors.Is(err, entity.ErrValidationFailed) {
		t.Errorf("SetPayload without confidence = %v", err)
	}
}
