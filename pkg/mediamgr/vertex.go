package mediamgr

import (
	"context"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/entity"
	"github.com/haivivi/mediamgr/pkg/query"
)

// Cast is a performer.
type Cast struct {
	*entity.Entity
	m *Manager
}

// Media is a media item; its metadata object describes the file.
type Media struct {
	*entity.Entity
	m *Manager
}

// Face is a face detected in a media item and attributed to a performer.
type Face struct {
	*entity.Entity
	m *Manager
}

// NewCast returns an unbound Cast.
func (m *Manager) NewCast() *Cast { return &Cast{m.bind(CastKind), m} }

// NewMedia returns an unbound Media.
func (m *Manager) NewMedia() *Media { return &Media{m.bind(MediaKind), m} }

// NewFace returns an unbound Face.
func (m *Manager) NewFace() *Face { return &Face{m.bind(FaceKind), m} }

// NewFromTemplate resets c to the cast template and clears its identity.
func (c *Cast) NewFromTemplate() *Cast {
	c.Entity.NewFromTemplate()
	return c
}

// NewFromTemplate resets md to the media template and clears its identity.
func (md *Media) NewFromTemplate() *Media {
	md.Entity.NewFromTemplate()
	return md
}

// NewFromTemplate resets f to the faces template and clears its identity.
func (f *Face) NewFromTemplate() *Face {
	f.Entity.NewFromTemplate()
	return f
}

// LoadCast loads a Cast by key or id.
func (m *Manager) LoadCast(ctx context.Context, idOrKey string) (*Cast, error) {
	c := m.NewCast()
	if err := c.Load(ctx, idOrKey); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadMedia loads a Media by key or id.
func (m *Manager) LoadMedia(ctx context.Context, idOrKey string) (*Media, error) {
	md := m.NewMedia()
	if err := md.Load(ctx, idOrKey); err != nil {
		return nil, err
	}
	return md, nil
}

// LoadFace loads a Face by key or id.
func (m *Manager) LoadFace(ctx context.Context, idOrKey string) (*Face, error) {
	f := m.NewFace()
	if err := f.Load(ctx, idOrKey); err != nil {
		return nil, err
	}
	return f, nil
}

// AppearsIn records that the cast member appears in mediaID and returns
// the new edge's write metadata.
func (c *Cast) AppearsIn(ctx context.Context, mediaID string, opts ...EdgeOption) (docstore.Meta, error) {
	if err := c.RequireIdentity(); err != nil {
		return docstore.Meta{}, err
	}
	return c.m.NewAppearsIn(c.ID(), mediaID, opts...).Save(ctx)
}

// Faces returns the faces attributed to the cast member.
func (c *Cast) Faces(ctx context.Context) (*docstore.Cursor, error) {
	if err := c.RequireIdentity(); err != nil {
		return nil, err
	}
	return c.m.facesWhere(ctx, "cast_id", c.ID()), nil
}

// Media returns the media the cast member appears in.
func (c *Cast) Media(ctx context.Context) (*docstore.Cursor, error) {
	if err := c.RequireIdentity(); err != nil {
		return nil, err
	}
	return c.m.exec.Execute(ctx, query.MediaByCast, map[string]any{"cast_id": c.ID()})
}

// Cast returns the cast members appearing in the media item.
func (md *Media) Cast(ctx context.Context) (*docstore.Cursor, error) {
	if err := md.RequireIdentity(); err != nil {
		return nil, err
	}
	return md.m.exec.Execute(ctx, query.CastByMedia, map[string]any{"media_id": md.ID()})
}

// Faces returns the faces detected in the media item.
func (md *Media) Faces(ctx context.Context) (*docstore.Cursor, error) {
	if err := md.RequireIdentity(); err != nil {
		return nil, err
	}
	return md.m.facesWhere(ctx, "media_id", md.ID()), nil
}

// MatchesFace records that the face matches faceID. One directed edge is
// stored; MatchingFaces finds it from either end.
func (f *Face) MatchesFace(ctx context.Context, faceID string, opts ...EdgeOption) (docstore.Meta, error) {
	if err := f.RequireIdentity(); err != nil {
		return docstore.Meta{}, err
	}
	return f.m.NewFaceMatchesFace(f.ID(), faceID, opts...).Save(ctx)
}

// MatchingFaces returns the faces matched to this one in either direction.
func (f *Face) MatchingFaces(ctx context.Context) (*docstore.Cursor, error) {
	if err := f.RequireIdentity(); err != nil {
		return nil, err
	}
	return f.m.exec.Execute(ctx, query.FacesMatchingFace, map[string]any{"face_id": f.ID()})
}

func (m *Manager) facesWhere(ctx context.Context, field, id string) *docstore.Cursor {
	return m.store.Collection(CollFaces).Find(ctx, map[string]any{field: id})
}
