package mediamgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/mediamgr/pkg/docstore"
)

// Document is one document of an apply stream: the target collection and
// its fields.
type Document struct {
	Collection string         `yaml:"collection" json:"collection"`
	Fields     map[string]any `yaml:",inline" json:",inline"`
}

// ApplyResult describes the outcome of applying one document.
type ApplyResult struct {
	Collection string `json:"collection" yaml:"collection"`
	ID         string `json:"id" yaml:"id"`
	Rev        string `json:"rev" yaml:"rev"`
	Status     string `json:"status" yaml:"status"` // "created", "updated"
}

// ParseDocuments parses a multi-document YAML stream (--- separated). Each
// document names its target in a "collection" field.
func ParseDocuments(data []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []Document
	for {
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		if raw == nil {
			continue
		}
		coll, _ := raw["collection"].(string)
		if coll == "" {
			return nil, fmt.Errorf("document %d missing 'collection' field", len(docs))
		}
		delete(raw, "collection")
		docs = append(docs, Document{Collection: coll, Fields: raw})
	}
	return docs, nil
}

// Apply writes docs in order. A document whose _key already exists is
// merged into the stored one and updated; anything else is inserted. Apply
// stops at the first failure and returns the results so far.
func (m *Manager) Apply(ctx context.Context, docs []Document) ([]ApplyResult, error) {
	var results []ApplyResult
	for i, doc := range docs {
		r, err := m.applyOne(ctx, doc)
		if err != nil {
			return results, fmt.Errorf("document %d (collection=%s): %w", i, doc.Collection, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (m *Manager) applyOne(ctx context.Context, doc Document) (ApplyResult, error) {
	e, err := m.Entity(doc.Collection)
	if err != nil {
		return ApplyResult{}, err
	}

	payload := m.reg.Template(doc.Collection)
	status := "created"
	if key, ok := doc.Fields[docstore.FieldKey].(string); ok && key != "" {
		existing, err := m.store.Collection(doc.Collection).Get(ctx, key)
		switch {
		case err == nil:
			payload = existing
			status = "updated"
		case !errors.Is(err, docstore.ErrNotFound):
			return ApplyResult{}, err
		}
	}
	for k, v := range doc.Fields {
		switch k {
		case docstore.FieldID, docstore.FieldRev:
			continue
		}
		payload[k] = v
	}

	if err := e.SetPayload(payload); err != nil {
		return ApplyResult{}, err
	}
	meta, err := e.Save(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Collection: doc.Collection, ID: meta.ID, Rev: meta.Rev, Status: status}, nil
}
