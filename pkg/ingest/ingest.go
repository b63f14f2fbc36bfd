// Package ingest registers media files as Media documents.
//
// Each file of a source store is hashed; the md5 hex digest is the media
// key, so a file whose content is already registered is skipped. New files
// are inspected for image metadata and, when a library is configured, copied
// into it as {hash}{ext}.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/mediamgr"
	"github.com/haivivi/mediamgr/pkg/storage"
)

// Status is the outcome for one file.
type Status string

const (
	StatusAdded       Status = "added"
	StatusExisting    Status = "existing"
	StatusUnsupported Status = "unsupported"
	StatusFailed      Status = "failed"
)

// Result describes what happened to one source file.
type Result struct {
	Path   string `json:"path" yaml:"path"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Status Status `json:"status" yaml:"status"`
	Bytes  int64  `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Err    error  `json:"-" yaml:"-"`
}

// Report collects the results of a Run, sorted by path.
type Report struct {
	Results []Result
}

// Bytes returns the total size of the files with status s.
func (r *Report) Bytes(s Status) int64 {
	var n int64
	for _, res := range r.Results {
		if res.Status == s {
			n += res.Bytes
		}
	}
	return n
}

// Count returns the number of results with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed file, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Option configures an Ingester.
type Option func(*options)

type options struct {
	concurrency int
	prefix      string
	library     storage.FileStore
	move        bool
	log         *slog.Logger
}

// WithConcurrency bounds the number of files processed at once. Default 4.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithPrefix limits a Run to source paths under prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLibrary archives each new file into lib as {hash}{ext}. With move,
// the source file is deleted once the media document is saved.
func WithLibrary(lib storage.FileStore, move bool) Option {
	return func(o *options) {
		o.library = lib
		o.move = move
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Ingester registers the files of a source store through a Manager.
type Ingester struct {
	m    *mediamgr.Manager
	src  storage.FileStore
	opts options
}

// New returns an Ingester reading from src.
func New(m *mediamgr.Manager, src storage.FileStore, opts ...Option) *Ingester {
	o := options{concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Ingester{m: m, src: src, opts: o}
}

// Run processes every file of the source. Per-file failures are recorded
// in the report and do not stop the run; the returned error is non-nil
// only if listing the source fails or ctx is canceled.
func (in *Ingester) Run(ctx context.Context) (*Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.concurrency)

	var listErr error
	for f, err := range in.src.List(gctx, in.opts.prefix) {
		if err != nil {
			listErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := in.File(gctx, f.Path)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(report.Results, func(a, b Result) int {
		return strings.Compare(a.Path, b.Path)
	})

	in.opts.log.Info("ingest finished",
		"files", len(report.Results),
		"added", report.Count(StatusAdded),
		"existing", report.Count(StatusExisting),
		"unsupported", report.Count(StatusUnsupported),
		"failed", report.Count(StatusFailed),
	)
	if listErr != nil {
		return &report, fmt.Errorf("ingest: list source: %w", listErr)
	}
	if err := ctx.Err(); err != nil {
		return &report, err
	}
	return &report, nil
}

// File processes a single source path.
func (in *Ingester) File(ctx context.Context, path string) Result {
	res := in.file(ctx, path)

	log := in.opts.log.With("path", path, "key", res.Key)
	switch res.Status {
	case StatusAdded:
		log.Info("media added", "id", res.ID, "bytes", res.Bytes)
	case StatusExisting:
		log.Info("media already registered", "id", res.ID)
	case StatusUnsupported:
		log.Warn("skipping unsupported file")
	case StatusFailed:
		log.Error("ingest failed", "err", res.Err)
	}
	return res
}

func (in *Ingester) file(ctx context.Context, path string) Result {
	res := Result{Path: path, Status: StatusFailed}
	key, size, err := in.hash(ctx, path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Key, res.Bytes = key, size
	id := docstore.JoinID(mediamgr.CollMedia, key)

	_, err = in.m.Store().Collection(mediamgr.CollMedia).Get(ctx, key)
	switch {
	case err == nil:
		res.ID, res.Status = id, StatusExisting
		return res
	case !errors.Is(err, docstore.ErrNotFound):
		res.Err = err
		return res
	}

	metadata, err := in.inspect(ctx, path)
	if errors.Is(err, ErrUnsupported) {
		res.Status = StatusUnsupported
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}
	metadata["hash_md5"] = key
	metadata["filename"] = path
	metadata["bytes"] = size

	if in.opts.library != nil {
		dst := key + storage.Ext(path)
		if err := in.archive(ctx, path, dst); err != nil {
			res.Err = fmt.Errorf("archive: %w", err)
			return res
		}
		metadata["library_path"] = dst
	}

	saved, err := in.m.AddMedia(ctx, key, metadata)
	if errors.Is(err, docstore.ErrDuplicate) {
		// Same content registered concurrently under another path.
		res.ID, res.Status = id, StatusExisting
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}
	res.ID = saved

	if in.opts.library != nil && in.opts.move {
		if err := in.src.Delete(ctx, path); err != nil {
			res.Err = fmt.Errorf("remove source: %w", err)
			return res
		}
	}
	res.Status = StatusAdded
	return res
}

func (in *Ingester) hash(ctx context.Context, path string) (string, int64, error) {
	r, err := in.src.Read(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()
	cr := &countingReader{r: r}
	sum, err := HashMD5(cr)
	if err != nil {
		return "", 0, err
	}
	return sum, cr.n, nil
}

func (in *Ingester) inspect(ctx context.Context, path string) (map[string]any, error) {
	r, err := in.src.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Inspect(r)
}

func (in *Ingester) archive(ctx context.Context, src, dst string) error {
	lib := in.opts.library
	ok, err := lib.Exists(ctx, dst)
	if err != nil || ok {
		return err
	}
	r, err := in.src.Read(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := lib.Write(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(w, r, make([]byte, ChunkSize)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
