// Package kv provides the ordered key-value layer underneath the document
// store. Keys are hierarchical paths (e.g. ["db", "mediamgr", "doc", "cast",
// "1000"]) joined with a configurable separator (default ':').
//
// Every backend supports prefix listing and an optimistic read-modify-write
// transaction ([Store.Update]); the document store relies on the latter for
// revision checks and for writing a document together with its index and
// adjacency keys.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")

	// ErrConflict is returned by Update when a key read inside the
	// transaction was modified concurrently before the commit.
	ErrConflict = errors.New("kv: transaction conflict")
)

// Key is a hierarchical path represented as a slice of string segments.
// Segments must not contain the configured separator character.
type Key []string

// String returns the key joined with ':' for display.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Append returns a new key with segs appended. The receiver is not modified.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Txn is the view handed to the function passed to Store.Update. Reads see
// the transaction's own pending writes.
type Txn interface {
	Get(key Key) ([]byte, error)
	Set(key Key, value []byte) error
	Delete(key Key) error
}

// Store is the interface for a key-value store with path-based keys.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// List iterates over all entries whose key starts with the given prefix.
	// The iteration order is lexicographic by encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	// Update runs fn in a read-write transaction. Writes made through the
	// Txn are applied atomically if fn returns nil and discarded otherwise.
	// If another writer touched a key that fn read, Update returns
	// ErrConflict and nothing is written. Update never retries.
	Update(ctx context.Context, fn func(tx Txn) error) error

	// Close releases any resources held by the store.
	Close() error
}

// DefaultSeparator is the default separator byte used to encode key segments.
const DefaultSeparator byte = ':'

// Options configures store behavior.
type Options struct {
	// Separator is the byte used to join key segments when encoding to storage.
	// Default is ':' if zero.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

// encode converts a Key to its byte representation using the separator.
func (o *Options) encode(k Key) []byte {
	s := o.sep()
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, n)
	pos := 0
	for i, seg := range k {
		if i > 0 {
			buf[pos] = s
			pos++
		}
		pos += copy(buf[pos:], seg)
	}
	return buf
}

// prefixBytes returns the encoded scan prefix for a List call. A non-empty
// prefix gets a trailing separator so "a:b" does not match "a:bc".
func (o *Options) prefixBytes(prefix Key) []byte {
	p := o.encode(prefix)
	if len(p) == 0 {
		return nil
	}
	return append(p, o.sep())
}

// decode converts a byte representation back to a Key using the separator.
func (o *Options) decode(b []byte) Key {
	parts := strings.Split(string(b), string(o.sep()))
	return Key(parts)
}

// pendingTxn buffers writes on top of a read function. Memory, Redis and SQL
// use it to give fn a consistent read-your-writes view before committing.
type pendingTxn struct {
	opts   *Options
	read   func(k []byte) ([]byte, error)
	writes map[string][]byte // nil value marks a delete
	order  []string
	reads  map[string][]byte // value observed on first read; nil = absent
}

func newPendingTxn(opts *Options, read func(k []byte) ([]byte, error)) *pendingTxn {
	return &pendingTxn{
		opts:   opts,
		read:   read,
		writes: make(map[string][]byte),
		reads:  make(map[string][]byte),
	}
}

func (t *pendingTxn) Get(key Key) ([]byte, error) {
	k := string(t.opts.encode(key))
	if v, ok := t.writes[k]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return append([]byte(nil), v...), nil
	}
	v, err := t.read([]byte(k))
	if errors.Is(err, ErrNotFound) {
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = nil
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = append([]byte{}, v...)
	}
	return v, nil
}

func (t *pendingTxn) Set(key Key, value []byte) error {
	k := string(t.opts.encode(key))
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	// Empty values are stored as empty, not as deletes.
	if value == nil {
		value = []byte{}
	}
	t.writes[k] = append([]byte{}, value...)
	return nil
}

func (t *pendingTxn) Delete(key Key) error {
	k := string(t.opts.encode(key))
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = nil
	return nil
}
