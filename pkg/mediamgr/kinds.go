package mediamgr

import (
	"reflect"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/entity"
)

// Collection names.
const (
	CollCast            = "cast"
	CollMedia           = "media"
	CollFaces           = "faces"
	CollAppearsIn       = "appears_in"
	CollFaceMatchesFace = "face_matches_face"
)

func kindOf(v any) reflect.Kind {
	if v == nil {
		return reflect.Invalid
	}
	return reflect.TypeOf(v).Kind()
}

func isList(field string) func(docstore.Document) bool {
	return func(d docstore.Document) bool {
		k := kindOf(d[field])
		return k == reflect.Slice || k == reflect.Array
	}
}

func isObject(field string) func(docstore.Document) bool {
	return func(d docstore.Document) bool { return kindOf(d[field]) == reflect.Map }
}

func isString(field string) func(docstore.Document) bool {
	return func(d docstore.Document) bool { return kindOf(d[field]) == reflect.String }
}

// Entity kinds. Checks run after the registry rule, in order.
var (
	CastKind = entity.Kind{
		Collection: CollCast,
		Checks:     []entity.Check{{Message: "refs must be a list", Pred: isList("refs")}},
	}
	MediaKind = entity.Kind{
		Collection: CollMedia,
		Checks:     []entity.Check{{Message: "metadata must be an object", Pred: isObject("metadata")}},
	}
	FaceKind = entity.Kind{
		Collection: CollFaces,
		Checks:     []entity.Check{{Message: "face_identifier must be a string", Pred: isString("face_identifier")}},
	}
	AppearsInKind = entity.Kind{
		Collection: CollAppearsIn,
		Required:   []string{"first_seen", "last_seen"},
	}
	FaceMatchesFaceKind = entity.Kind{
		Collection: CollFaceMatchesFace,
		Required:   []string{"confidence"},
	}
)

// KindFor returns the kind bound to collection, or a kind with no extra
// checks for collections outside the built-in layout.
func KindFor(collection string) entity.Kind {
	for _, k := range []entity.Kind{CastKind, MediaKind, FaceKind, AppearsInKind, FaceMatchesFaceKind} {
		if k.Collection == collection {
			return k
		}
	}
	return entity.Kind{Collection: collection}
}
