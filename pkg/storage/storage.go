// Package storage gives ingestion a uniform view of where media files live:
// a local directory tree or a prefix of an S3 bucket. The same interface is
// used to write archived copies into a media library.
package storage

import (
	"context"
	"io"
	"iter"
)

// File is one entry returned by List.
type File struct {
	// Path is forward-slash separated and relative to the store root.
	Path string
	Size int64
}

// FileStore is a flat, path-addressed file store.
//
// Implementations must be safe for concurrent use.
type FileStore interface {
	// List yields every file under prefix ("" for all), in lexical path
	// order. Directories are not listed.
	List(ctx context.Context, prefix string) iter.Seq2[File, error]

	// Read opens the named file. If it does not exist, the error wraps
	// os.ErrNotExist. The caller must close the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named file. The caller must close the
	// writer; Close reports whether the data was stored.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}
