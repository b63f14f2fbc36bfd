package docstore

import (
	"iter"
)

// Cursor is a forward-only, non-restartable sequence of documents. The
// producing query runs lazily as Next is called. A Cursor must be closed if
// it is abandoned before exhaustion.
//
// Typical use:
//
//	for cur.Next() {
//		doc := cur.Doc()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	next func() (Document, error, bool)
	stop func()
	doc  Document
	err  error
	done bool
}

// NewCursor wraps seq. Iteration stops at the first error, which is then
// reported by Err.
func NewCursor(seq iter.Seq2[Document, error]) *Cursor {
	next, stop := iter.Pull2(seq)
	return &Cursor{next: next, stop: stop}
}

// ErrCursor returns a cursor that yields nothing and reports err.
func ErrCursor(err error) *Cursor {
	return &Cursor{err: err, done: true, stop: func() {}}
}

// Next advances to the next document. It returns false when the sequence is
// exhausted, an error occurred, or the cursor was closed.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	doc, err, ok := c.next()
	if !ok {
		c.finish()
		return false
	}
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	c.doc = doc
	return true
}

// Doc returns the current document.
func (c *Cursor) Doc() Document { return c.doc }

// Err returns the error that ended iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Close stops the underlying query. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.finish()
	return nil
}

func (c *Cursor) finish() {
	if !c.done {
		c.done = true
		c.doc = nil
		c.stop()
	}
}

// All returns the remaining documents as an iterator. Ranging over it
// consumes the cursor; breaking out of the loop closes it.
func (c *Cursor) All() iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		defer c.Close()
		for c.Next() {
			if !yield(c.doc, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Collect drains the cursor into a slice.
func (c *Cursor) Collect() ([]Document, error) {
	var out []Document
	for c.Next() {
		out = append(out, c.doc)
	}
	return out, c.err
}
