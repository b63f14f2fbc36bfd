// Package entity manages the lifecycle of one in-memory document bound to a
// collection: template generation from the schema registry, validation, and
// the insert-or-update decision on save.
//
// An Entity moves through these states:
//
//	Unbound  -> NewFromTemplate -> Template
//	Unbound  -> Load/SetPayload -> Loaded
//	Template/Loaded -> Save -> Persisted -> (mutate) -> Save ...
//
// The presence of a revision in the payload is the only signal that Save
// updates rather than inserts. An Entity is not safe for concurrent use;
// distinct entities may share one store.
package entity

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/schema"
)

var (
	// ErrValidationFailed is returned when a payload violates its
	// collection's rule. No write is attempted.
	ErrValidationFailed = errors.New("entity: validation failed")

	// ErrPreconditionFailed is returned when an operation needs a persisted
	// identity the entity does not have.
	ErrPreconditionFailed = errors.New("entity: precondition failed")

	// ErrInvalidArgument is returned when a setter receives a value of the
	// wrong shape.
	ErrInvalidArgument = errors.New("entity: invalid argument")
)

// Check is a kind-specific validation step. Pred reports whether the
// document is acceptable; Message describes the failure.
type Check struct {
	Message string
	Pred    func(doc docstore.Document) bool
}

// Kind describes a family of entities: the collection they live in plus
// the required fields and checks layered on top of the registry rule.
type Kind struct {
	Collection string
	Required   []string
	Checks     []Check
}

// Entity is one document of a collection together with its identity.
type Entity struct {
	store docstore.Store
	reg   *schema.Registry
	kind  Kind

	doc          docstore.Document
	id, key, rev string
}

// Bind returns an unbound entity of kind. It panics if the registry does
// not define kind.Collection.
func Bind(store docstore.Store, reg *schema.Registry, kind Kind) *Entity {
	if !reg.Has(kind.Collection) {
		panic(fmt.Sprintf("entity: unknown collection %q", kind.Collection))
	}
	kind.Required = slices.Clone(kind.Required)
	kind.Checks = slices.Clone(kind.Checks)
	return &Entity{store: store, reg: reg, kind: kind}
}

// Collection returns the name of the bound collection.
func (e *Entity) Collection() string { return e.kind.Collection }

// ID returns the tracked "collection/key" id, or "" if never saved or loaded.
func (e *Entity) ID() string { return e.id }

// Key returns the tracked key.
func (e *Entity) Key() string { return e.key }

// Rev returns the tracked revision.
func (e *Entity) Rev() string { return e.rev }

// Document returns the active payload, or nil while unbound. The map is
// live: changes are seen by the next Validate or Save.
func (e *Entity) Document() docstore.Document { return e.doc }

// Get returns a payload field.
func (e *Entity) Get(field string) any { return e.doc[field] }

// Set assigns a payload field, initializing a template first if unbound.
func (e *Entity) Set(field string, v any) {
	if e.doc == nil {
		e.NewFromTemplate()
	}
	e.doc[field] = v
}

// NewFromTemplate replaces the payload with the collection's default
// document and clears the identity.
func (e *Entity) NewFromTemplate() *Entity {
	e.doc = e.reg.Template(e.kind.Collection)
	e.id, e.key, e.rev = "", "", ""
	return e
}

// SetPayload validates doc and makes it the active payload. doc must be a
// map[string]any or docstore.Document. The identity is re-derived from the
// _id, _key and _rev fields of doc, each empty when absent. On error the
// entity is left unchanged.
func (e *Entity) SetPayload(doc any) error {
	d, ok := asDocument(doc)
	if !ok {
		return fmt.Errorf("%w: payload must be a mapping, got %T", ErrInvalidArgument, doc)
	}
	if err := e.ValidateDocument(d); err != nil {
		return err
	}
	e.doc = d
	e.id, e.key, e.rev = d.ID(), d.Key(), d.Rev()
	return nil
}

// SetKey sets the payload's _key, initializing a template first if unbound.
// The id is assigned by the next Save.
func (e *Entity) SetKey(key string) {
	e.Set(docstore.FieldKey, key)
}

// RequireIdentity fails unless the entity has been saved or loaded.
func (e *Entity) RequireIdentity() error {
	if e.id == "" {
		return fmt.Errorf("%w: no identity: has this entity ever been saved or loaded?", ErrPreconditionFailed)
	}
	return nil
}

// Validate checks the active payload. Edge endpoints (_from and _to) are
// checked by Save, not here.
func (e *Entity) Validate() error {
	if e.doc == nil {
		return fmt.Errorf("%w: %s: no payload", ErrValidationFailed, e.kind.Collection)
	}
	return e.ValidateDocument(e.doc)
}

// ValidateDocument checks doc against the registry rule, the kind's
// required fields and its checks, in that order. It has no side effects.
func (e *Entity) ValidateDocument(doc any) error {
	d, ok := asDocument(doc)
	if !ok || d == nil {
		return fmt.Errorf("%w: %s: document must be a mapping, got %T", ErrValidationFailed, e.kind.Collection, doc)
	}
	if err := e.reg.Validate(e.kind.Collection, d); err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	for _, f := range e.kind.Required {
		if _, ok := d[f]; !ok {
			return fmt.Errorf("%w: %s: missing required field %q", ErrValidationFailed, e.kind.Collection, f)
		}
	}
	for _, c := range e.kind.Checks {
		if !c.Pred(d) {
			return fmt.Errorf("%w: %s: %s", ErrValidationFailed, e.kind.Collection, c.Message)
		}
	}
	return nil
}

// checkEndpoints verifies an edge payload points between collections its
// graph allows.
func (e *Entity) checkEndpoints() error {
	from, to := e.reg.GraphTopologyFor(e.kind.Collection)
	for _, ep := range []struct {
		field string
		allow []string
	}{{docstore.FieldFrom, from}, {docstore.FieldTo, to}} {
		v := e.doc.Str(ep.field)
		if v == "" {
			return fmt.Errorf("%w: %s: %s is required", ErrValidationFailed, e.kind.Collection, ep.field)
		}
		coll, _, ok := docstore.SplitID(v)
		if !ok || !slices.Contains(ep.allow, coll) {
			return fmt.Errorf("%w: %s: %s %q must reference one of %v", ErrValidationFailed, e.kind.Collection, ep.field, v, ep.allow)
		}
	}
	return nil
}

// Save validates the payload and writes it: an update guarded by the
// payload's revision when it carries one, an insert otherwise. On success
// the store's id, key and revision are written back into the identity and
// the payload. Store errors are returned unchanged.
func (e *Entity) Save(ctx context.Context) (docstore.Meta, error) {
	if err := e.Validate(); err != nil {
		return docstore.Meta{}, err
	}
	if e.reg.IsEdge(e.kind.Collection) {
		if err := e.checkEndpoints(); err != nil {
			return docstore.Meta{}, err
		}
	}

	rev := e.doc.Rev()
	out := e.doc.Clone()
	delete(out, docstore.FieldID)
	delete(out, docstore.FieldRev)

	coll := e.store.Collection(e.kind.Collection)
	var (
		meta docstore.Meta
		err  error
	)
	if rev != "" {
		meta, err = coll.Update(ctx, out, docstore.IfRevision(rev))
	} else {
		meta, err = coll.Insert(ctx, out)
	}
	if err != nil {
		return docstore.Meta{}, err
	}

	e.id, e.key, e.rev = meta.ID, meta.Key, meta.Rev
	e.doc[docstore.FieldID] = meta.ID
	e.doc[docstore.FieldKey] = meta.Key
	e.doc[docstore.FieldRev] = meta.Rev
	return meta, nil
}

// Load fetches a document by key or id and makes it the active payload.
// idOrKey must be a string.
func (e *Entity) Load(ctx context.Context, idOrKey any) error {
	s, ok := idOrKey.(string)
	if !ok {
		return fmt.Errorf("%w: lookup key must be a string, got %T", ErrInvalidArgument, idOrKey)
	}
	doc, err := e.store.Collection(e.kind.Collection).Get(ctx, s)
	if err != nil {
		return err
	}
	return e.SetPayload(doc)
}

func asDocument(v any) (docstore.Document, bool) {
	switch d := v.(type) {
	case docstore.Document:
		return d, true
	case map[string]any:
		return docstore.Document(d), true
	}
	return nil, false
}
