package mediamgr

import (
	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/entity"
)

// AppearsIn is a cast → media edge.
type AppearsIn struct {
	*entity.Entity
}

// FaceMatchesFace is a faces → faces edge.
type FaceMatchesFace struct {
	*entity.Entity
}

// EdgeOption sets attributes of a new edge.
type EdgeOption func(*entity.Entity)

// WithSeen sets first_seen and last_seen on an appears_in edge.
func WithSeen(first, last string) EdgeOption {
	return func(e *entity.Entity) {
		e.Set("first_seen", first)
		e.Set("last_seen", last)
	}
}

// WithConfidence sets confidence on a face_matches_face edge.
func WithConfidence(c string) EdgeOption {
	return func(e *entity.Entity) { e.Set("confidence", c) }
}

func (m *Manager) newEdge(kind entity.Kind, from, to string, opts []EdgeOption) *entity.Entity {
	e := m.bind(kind).NewFromTemplate()
	e.Set(docstore.FieldFrom, from)
	e.Set(docstore.FieldTo, to)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewAppearsIn returns an unsaved appears_in edge from castID to mediaID.
func (m *Manager) NewAppearsIn(castID, mediaID string, opts ...EdgeOption) *AppearsIn {
	return &AppearsIn{m.newEdge(AppearsInKind, castID, mediaID, opts)}
}

// NewFaceMatchesFace returns an unsaved face_matches_face edge.
func (m *Manager) NewFaceMatchesFace(faceID, otherID string, opts ...EdgeOption) *FaceMatchesFace {
	return &FaceMatchesFace{m.newEdge(FaceMatchesFaceKind, faceID, otherID, opts)}
}
