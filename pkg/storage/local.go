package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local is a FileStore over a directory.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) resolve(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(p))
}

// List walks the tree below prefix. Hidden files and directories (leading
// '.') are skipped.
func (l *Local) List(ctx context.Context, prefix string) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		stop := errors.New("stop")
		err := filepath.WalkDir(l.root, func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if full == l.root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(l.root, full)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				// Prune directories that cannot contain prefix matches.
				if prefix != "" && !strings.HasPrefix(rel+"/", prefix) && !strings.HasPrefix(prefix, rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasPrefix(rel, prefix) || !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !yield(File{Path: rel, Size: info.Size()}, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(File{}, err)
		}
	}
}

// Read opens the named file.
func (l *Local) Read(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(p))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Write creates the named file and its parent directories.
func (l *Local) Write(_ context.Context, p string) (io.WriteCloser, error) {
	full := l.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the named file.
func (l *Local) Delete(_ context.Context, p string) error {
	err := os.Remove(l.resolve(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(l.resolve(p))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}

// Ext returns the lower-cased extension of a store path, including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

var _ FileStore = (*Local)(nil)
