package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/docstore/neo4jstore"
	"github.com/haivivi/mediamgr/pkg/kv"
	"github.com/haivivi/mediamgr/pkg/schema"
	"github.com/haivivi/mediamgr/pkg/storage"
)

// OpenStore opens the document store selected by c. The caller closes it.
func OpenStore(ctx context.Context, c *Context, log *slog.Logger) (docstore.Store, error) {
	if c.Backend == BackendNeo4j {
		s, err := neo4jstore.Open(ctx, neo4jstore.Options{
			URI:      c.Neo4j.URI,
			Username: c.Neo4j.Username,
			Password: c.Neo4j.Password,
			Database: c.Neo4j.Database,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	store, err := OpenKV(ctx, c, log)
	if err != nil {
		return nil, err
	}
	ds, err := docstore.Open(store, c.Database)
	if err != nil {
		store.Close()
		return nil, err
	}
	return ds, nil
}

// OpenKV opens the kv engine behind a kv-backed context.
func OpenKV(ctx context.Context, c *Context, log *slog.Logger) (kv.Store, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}
	var (
		store kv.Store
		err   error
	)
	switch c.Backend {
	case BackendMemory:
		store = kv.NewMemory(nil)
	case BackendBadger:
		store, err = nonNil(kv.NewBadger(kv.BadgerOptions{Dir: c.Badger.Dir, Logger: log}))
	case BackendRedis:
		store, err = nonNil(kv.NewRedis(ctx, kv.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		}))
	case BackendSQLite:
		store, err = nonNil(kv.NewSQLite(kv.SQLOptions{Path: c.SQLite.Path}))
	default:
		err = fmt.Errorf("context %q: backend %q is not a kv engine", c.Name, c.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// nonNil converts a concrete store result to kv.Store without wrapping a
// nil pointer in a non-nil interface.
func nonNil[T kv.Store](s T, err error) (kv.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenRegistry returns the registry named by c.Schema, or the built-in one.
func OpenRegistry(c *Context) (*schema.Registry, error) {
	if c.Schema == "" {
		return schema.Default(), nil
	}
	data, err := os.ReadFile(c.Schema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	reg, err := schema.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", c.Schema, err)
	}
	return reg, nil
}

// ErrNoFileStore is returned by OpenFileStore for an empty configuration.
var ErrNoFileStore = errors.New("no dir or s3 configured")

// OpenFileStore opens a local directory or S3 prefix.
func OpenFileStore(f *FileStoreConfig) (storage.FileStore, error) {
	switch {
	case f == nil || (f.Dir == "" && f.S3 == nil):
		return nil, ErrNoFileStore
	case f.Dir != "" && f.S3 != nil:
		return nil, errors.New("dir and s3 are mutually exclusive")
	case f.S3 != nil:
		if f.S3.Bucket == "" {
			return nil, errors.New("s3.bucket is required")
		}
		return storage.NewS3(storage.NewS3Client(*f.S3), f.S3.Bucket, f.S3.Prefix), nil
	}
	l, err := storage.NewLocal(f.Dir)
	if err != nil {
		return nil, err
	}
	return l, nil
}
