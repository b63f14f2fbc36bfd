package docstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeDoc(d Document) ([]byte, error) {
	return msgpack.Marshal(map[string]any(d))
}

// decodeDoc decodes a stored document. Integers come back as int64 or
// uint64 and floats as float64 regardless of their wire width.
func decodeDoc(b []byte) (Document, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("docstore: decode document: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return Document(m), nil
}

// toFloat converts any Go numeric value to float64.
func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case !rv.IsValid():
		return 0, false
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

// indexToken encodes a scalar field value as a single kv key segment.
// Numbers of any width share one encoding so 1, int64(1) and 1.0 match.
// Composite values are not indexable.
func indexToken(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "z", true
	case string:
		return "s" + hex.EncodeToString([]byte(x)), true
	case bool:
		if x {
			return "b1", true
		}
		return "b0", true
	}
	if f, ok := toFloat(v); ok {
		return "n" + strconv.FormatFloat(f, 'g', -1, 64), true
	}
	return "", false
}

// valuesEqual compares a stored value with a filter value.
func valuesEqual(stored, want any) bool {
	if a, ok := toFloat(stored); ok {
		b, ok := toFloat(want)
		return ok && a == b
	}
	return reflect.DeepEqual(stored, want)
}

// Matches reports whether doc satisfies every field of filter. Numbers
// compare by value regardless of their Go type.
func Matches(doc Document, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}
