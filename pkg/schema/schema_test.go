package schema

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

func TestDefault(t *testing.T) {
	r := Default()
	want := []string{"cast", "media", "faces", "appears_in", "face_matches_face"}
	if got := r.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if got := r.RequiredIndexesFor("faces"); !slices.Equal(got, []string{"cast_id", "media_id"}) {
		t.Errorf("faces indexes = %v", got)
	}
	if got := r.RequiredIndexesFor("cast"); len(got) != 0 {
		t.Errorf("cast indexes = %v", got)
	}
	if !r.IsEdge("appears_in") || r.IsEdge("cast") {
		t.Error("IsEdge mismatch")
	}

	from, to := r.GraphTopologyFor("appears_in")
	if !slices.Equal(from, []string{"cast"}) || !slices.Equal(to, []string{"media"}) {
		t.Errorf("appears_in topology = %v -> %v", from, to)
	}
	if g := r.GraphFor("face_matches_face"); g != "matching_faces" {
		t.Errorf("GraphFor(face_matches_face) = %q", g)
	}
	if got := r.EdgeCollections(); !slices.Equal(got, []string{"appears_in", "face_matches_face"}) {
		t.Errorf("EdgeCollections() = %v", got)
	}
	if n := len(r.Graphs()); n != 2 {
		t.Errorf("len(Graphs()) = %d", n)
	}
}

func TestTemplateSatisfiesRule(t *testing.T) {
	r := Default()
	for _, name := range r.Names() {
		t.Run(name, func(t *testing.T) {
			tmpl := r.Template(name)
			if err := r.Validate(name, tmpl); err != nil {
				t.Fatalf("template fails its own rule: %v", err)
			}
			if _, ok := tmpl[docstore.FieldRev]; ok {
				t.Error("template carries _rev")
			}
		})
	}
}

func TestTemplateValues(t *testing.T) {
	r, err := New([]Collection{{
		Name: "all",
		Properties: []Property{
			{"n", TypeNull}, {"b", TypeBoolean}, {"o", TypeObject}, {"a", TypeArray},
			{"f", TypeNumber}, {"s", TypeString}, {"i", TypeInteger}, {"_rev", TypeString},
		},
	}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := r.Template("all")
	if v, ok := tmpl["n"]; !ok || v != nil {
		t.Errorf("null -> %#v", v)
	}
	if tmpl["b"] != false || tmpl["f"] != 0.0 || tmpl["s"] != "" || tmpl["i"] != 0 {
		t.Errorf("scalars = %#v", tmpl)
	}
	if o, ok := tmpl["o"].(map[string]any); !ok || len(o) != 0 {
		t.Errorf("object -> %#v", tmpl["o"])
	}
	if a, ok := tmpl["a"].([]any); !ok || len(a) != 0 {
		t.Errorf("array -> %#v", tmpl["a"])
	}
	if _, ok := tmpl["_rev"]; ok {
		t.Error("_rev not stripped from template")
	}

	// Templates are fresh each time.
	tmpl["o"].(map[string]any)["x"] = 1
	if len(r.Template("all")["o"].(map[string]any)) != 0 {
		t.Error("template shares state between calls")
	}
}

func TestValidate(t *testing.T) {
	r := Default()
	tests := []struct {
		name string
		coll string
		doc  map[string]any
		ok   bool
	}{
		{"cast ok", "cast", map[string]any{"name": "x", "refs": []any{"a"}}, true},
		{"cast missing refs", "cast", map[string]any{"name": "x"}, false},
		{"cast refs not list", "cast", map[string]any{"name": "x", "refs": "a"}, false},
		{"cast name wrong type", "cast", map[string]any{"name": 1, "refs": []any{}}, false},
		{"extra fields allowed", "cast", map[string]any{"name": "x", "refs": []string{}, "_key": "1"}, true},
		{"media metadata object", "media", map[string]any{"metadata": map[string]any{"w": 1}}, true},
		{"media metadata list", "media", map[string]any{"metadata": []any{}}, false},
		{"faces ok", "faces", map[string]any{"face_identifier": "f", "media_id": "media/1", "cast_id": "cast/1"}, true},
		{"faces identifier number", "faces", map[string]any{"face_identifier": 1, "media_id": "m", "cast_id": "c"}, false},
		{"edge without endpoints", "appears_in", map[string]any{"first_seen": "", "last_seen": ""}, true},
		{"edge missing attr", "face_matches_face", map[string]any{"_from": "faces/1", "_to": "faces/2"}, false},
		{"nil document", "media", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.coll, tt.doc)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	vertex := func(name string) Collection {
		return Collection{Name: name, Properties: []Property{{"x", TypeString}}}
	}
	edge := func(name string) Collection {
		return Collection{Name: name, Edge: true}
	}
	graph := func(name, edge, from, to string) docstore.GraphDefinition {
		return docstore.GraphDefinition{Name: name, EdgeDefinitions: []docstore.EdgeDefinition{
			{Collection: edge, From: []string{from}, To: []string{to}},
		}}
	}

	tests := []struct {
		name   string
		colls  []Collection
		graphs []docstore.GraphDefinition
		msg    string
	}{
		{"unknown type", []Collection{{Name: "a", Properties: []Property{{"x", "float"}}}}, nil, "illegal type"},
		{"bad name", []Collection{vertex("a/b")}, nil, "bad collection name"},
		{"duplicate collection", []Collection{vertex("a"), vertex("a")}, nil, "duplicate collection"},
		{"duplicate property", []Collection{{Name: "a", Properties: []Property{{"x", TypeString}, {"x", TypeString}}}}, nil, "duplicate property"},
		{"requires _rev", []Collection{{Name: "a", Required: []string{"_rev"}}}, nil, "must not require"},
		{"edge requires _from", []Collection{{Name: "e", Edge: true, Required: []string{"_from"}}}, nil, "must not require"},
		{"orphan edge", []Collection{vertex("v"), edge("e")}, nil, "belongs to no graph"},
		{"graph on vertex", []Collection{vertex("v")}, []docstore.GraphDefinition{graph("g", "v", "v", "v")}, "not an edge collection"},
		{"graph to edge", []Collection{vertex("v"), edge("e")}, []docstore.GraphDefinition{graph("g", "e", "v", "e")}, "not a vertex collection"},
		{"graph unknown vertex", []Collection{vertex("v"), edge("e")}, []docstore.GraphDefinition{graph("g", "e", "v", "w")}, "not a vertex collection"},
		{"edge in two graphs", []Collection{vertex("v"), edge("e")},
			[]docstore.GraphDefinition{graph("g1", "e", "v", "v"), graph("g2", "e", "v", "v")}, "more than one graph"},
		{"duplicate graph", []Collection{vertex("v"), edge("e"), edge("f")},
			[]docstore.GraphDefinition{graph("g", "e", "v", "v"), graph("g", "f", "v", "v")}, "duplicate graph"},
		{"empty graph", []Collection{vertex("v")}, []docstore.GraphDefinition{{Name: "g"}}, "no edge definitions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.colls, tt.graphs)
			if !errors.Is(err, ErrInvalidRegistry) {
				t.Fatalf("err = %v, want ErrInvalidRegistry", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.msg)
			}
		})
	}
}

func TestParse(t *testing.T) {
	r, err := Parse([]byte(`
collections:
  - name: people
    properties:
      - {name: age, type: integer}
    required: [age]
    indexes: [age]
  - name: knows
    edge: true
graphs:
  - name: social
    edge_definitions:
      - {collection: knows, from: [people], to: [people]}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := r.Validate("people", map[string]any{"age": int64(3)}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := r.Validate("people", map[string]any{"age": 3.5}); err == nil {
		t.Error("3.5 accepted as integer")
	}
	if g := r.GraphFor("knows"); g != "social" {
		t.Errorf("GraphFor = %q", g)
	}

	if _, err := Parse([]byte("collections: [")); !errors.Is(err, ErrInvalidRegistry) {
		t.Errorf("malformed yaml err = %v", err)
	}
}

func TestUnknownCollectionPanics(t *testing.T) {
	r := Default()
	for name, fn := range map[string]func(){
		"RuleFor":          func() { r.RuleFor("nope") },
		"Template":         func() { r.Template("nope") },
		"GraphTopologyFor": func() { r.GraphTopologyFor("cast") },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}
	if r.Has("nope") || !r.Has("cast") {
		t.Error("Has mismatch")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	r := Default()
	idx := r.RequiredIndexesFor("faces")
	idx[0] = "mutated"
	from, _ := r.GraphTopologyFor("appears_in")
	from[0] = "mutated"
	g := r.Graphs()
	g[0].EdgeDefinitions[0].From[0] = "mutated"

	if r.RequiredIndexesFor("faces")[0] != "cast_id" {
		t.Error("indexes mutated through accessor")
	}
	if f, _ := r.GraphTopologyFor("appears_in"); f[0] != "cast" {
		t.Error("topology mutated through accessor")
	}
	if r.Graphs()[0].EdgeDefinitions[0].From[0] != "cast" {
		t.Error("graphs mutated through accessor")
	}
}
