package kv_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/haivivi/mediamgr/pkg/kv"
)

// redisTestDB is flushed before every redis-backed test.
const redisTestDB = 15

type backend struct {
	name string
	open func(t *testing.T, opts *kv.Options) kv.Store
}

var backends = []backend{
	{"memory", func(t *testing.T, opts *kv.Options) kv.Store {
		return kv.NewMemory(opts)
	}},
	{"badger", func(t *testing.T, opts *kv.Options) kv.Store {
		s, err := kv.NewBadger(kv.BadgerOptions{Options: opts, InMemory: true})
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		return s
	}},
	{"sqlite", func(t *testing.T, opts *kv.Options) kv.Store {
		s, err := kv.NewSQLite(kv.SQLOptions{Options: opts, Path: ":memory:"})
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		return s
	}},
	{"redis", func(t *testing.T, opts *kv.Options) kv.Store {
		addr := os.Getenv("MEDIAMGR_TEST_REDIS_ADDR")
		if addr == "" {
			t.Skip("skipping: MEDIAMGR_TEST_REDIS_ADDR not set")
		}
		ctx := context.Background()
		rdb := goredis.NewClient(&goredis.Options{Addr: addr, DB: redisTestDB})
		defer rdb.Close()
		if err := rdb.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("FlushDB: %v", err)
		}
		s, err := kv.NewRedis(ctx, kv.RedisOptions{Options: opts, Addr: addr, DB: redisTestDB})
		if err != nil {
			t.Fatalf("NewRedis: %v", err)
		}
		return s
	}},
}

// forEachBackend runs fn once per backend with a fresh, empty store.
func forEachBackend(t *testing.T, opts *kv.Options, fn func(t *testing.T, s kv.Store)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, opts)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func TestGetSetDelete(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		key := kv.Key{"db", "mediamgr", "doc", "cast", "1000"}

		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := s.Set(ctx, key, []byte("hello")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "hello" {
			t.Fatalf("Get = %q, want hello", got)
		}

		if err := s.Set(ctx, key, []byte("world")); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, err = s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get after overwrite: %v", err)
		}
		if string(got) != "world" {
			t.Fatalf("Get = %q, want world", got)
		}

		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, kv.Key{"no", "such", "key"}); err != nil {
			t.Fatalf("Delete non-existent: %v", err)
		}
	})
}

func TestList(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		entries := []kv.Entry{
			{Key: kv.Key{"m", "doc", "cast", "1000"}, Value: []byte("a")},
			{Key: kv.Key{"m", "doc", "cast", "1010"}, Value: []byte("b")},
			{Key: kv.Key{"m", "doc", "media", "2000"}, Value: []byte("c")},
			{Key: kv.Key{"m", "out", "appears_in", "cast/1000", "e1"}, Value: []byte("media/2000")},
			{Key: kv.Key{"n", "doc", "cast", "9"}, Value: []byte("x")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.List(ctx, kv.Key{"m", "doc", "cast"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String()+"="+string(entry.Value))
		}
		want := []string{"m:doc:cast:1000=a", "m:doc:cast:1010=b"}
		if !slices.Equal(got, want) {
			t.Fatalf("List m:doc:cast = %v, want %v", got, want)
		}

		got = nil
		for entry, err := range s.List(ctx, kv.Key{"m"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		if len(got) != 4 {
			t.Fatalf("List m: got %d entries, want 4: %v", len(got), got)
		}

		got = nil
		for entry, err := range s.List(ctx, nil) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		if len(got) != 5 {
			t.Fatalf("List all: got %d entries, want 5: %v", len(got), got)
		}
	})
}

func TestListPrefixBoundary(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		entries := []kv.Entry{
			{Key: kv.Key{"ab", "1"}, Value: []byte("yes")},
			{Key: kv.Key{"abc", "2"}, Value: []byte("no")},
			{Key: kv.Key{"ab", "3"}, Value: []byte("yes")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}

		var got []string
		for entry, err := range s.List(ctx, kv.Key{"ab"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			got = append(got, entry.Key.String())
		}
		want := []string{"ab:1", "ab:3"}
		if !slices.Equal(got, want) {
			t.Fatalf("List ab = %v, want %v", got, want)
		}
	})
}

func TestListEarlyBreak(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		for _, k := range []string{"1", "2", "3"} {
			if err := s.Set(ctx, kv.Key{"p", k}, []byte(k)); err != nil {
				t.Fatal(err)
			}
		}
		n := 0
		for _, err := range s.List(ctx, kv.Key{"p"}) {
			if err != nil {
				t.Fatal(err)
			}
			n++
			break
		}
		if n != 1 {
			t.Fatalf("iterations = %d, want 1", n)
		}
	})
}

func TestBatchSetBatchDelete(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		entries := []kv.Entry{
			{Key: kv.Key{"a", "1"}, Value: []byte("v1")},
			{Key: kv.Key{"a", "2"}, Value: []byte("v2")},
			{Key: kv.Key{"a", "3"}, Value: []byte("v3")},
		}
		if err := s.BatchSet(ctx, entries); err != nil {
			t.Fatalf("BatchSet: %v", err)
		}
		for _, e := range entries {
			got, err := s.Get(ctx, e.Key)
			if err != nil {
				t.Fatalf("Get %v: %v", e.Key, err)
			}
			if string(got) != string(e.Value) {
				t.Fatalf("Get %v = %q, want %q", e.Key, got, e.Value)
			}
		}

		if err := s.BatchDelete(ctx, []kv.Key{{"a", "1"}, {"a", "2"}}); err != nil {
			t.Fatalf("BatchDelete: %v", err)
		}
		for _, k := range []kv.Key{{"a", "1"}, {"a", "2"}} {
			if _, err := s.Get(ctx, k); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for %v, got %v", k, err)
			}
		}
		got, err := s.Get(ctx, kv.Key{"a", "3"})
		if err != nil {
			t.Fatalf("Get a:3: %v", err)
		}
		if string(got) != "v3" {
			t.Fatalf("Get a:3 = %q, want v3", got)
		}
	})
}

func TestCustomSeparator(t *testing.T) {
	forEachBackend(t, &kv.Options{Separator: 0x1F}, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		key := kv.Key{"faces", "index", "cast_id", "cast:1000"}

		if err := s.Set(ctx, key, []byte("data")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "data" {
			t.Fatalf("Get = %q, want data", got)
		}

		var keys []kv.Key
		for entry, err := range s.List(ctx, kv.Key{"faces", "index"}) {
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			keys = append(keys, entry.Key)
		}
		if len(keys) != 1 || !slices.Equal(keys[0], key) {
			t.Fatalf("List = %v, want [%v]", keys, key)
		}
	})
}

func TestUpdateCommit(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		if err := s.Set(ctx, kv.Key{"doc", "old"}, []byte("gone")); err != nil {
			t.Fatal(err)
		}

		err := s.Update(ctx, func(tx kv.Txn) error {
			if _, err := tx.Get(kv.Key{"doc", "new"}); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("tx.Get new = %v, want ErrNotFound", err)
			}
			if err := tx.Set(kv.Key{"doc", "new"}, []byte("v1")); err != nil {
				return err
			}
			got, err := tx.Get(kv.Key{"doc", "new"})
			if err != nil {
				return err
			}
			if string(got) != "v1" {
				t.Fatalf("read-your-writes = %q, want v1", got)
			}
			if err := tx.Set(kv.Key{"doc", "marker"}, nil); err != nil {
				return err
			}
			return tx.Delete(kv.Key{"doc", "old"})
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := s.Get(ctx, kv.Key{"doc", "new"})
		if err != nil || string(got) != "v1" {
			t.Fatalf("Get new = %q, %v", got, err)
		}
		if _, err := s.Get(ctx, kv.Key{"doc", "marker"}); err != nil {
			t.Fatalf("empty value should exist, got %v", err)
		}
		if _, err := s.Get(ctx, kv.Key{"doc", "old"}); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("old should be deleted, got %v", err)
		}
	})
}

func TestUpdateRollback(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s kv.Store) {
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.Update(ctx, func(tx kv.Txn) error {
			if err := tx.Set(kv.Key{"doc", "a"}, []byte("x")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update err = %v, want boom", err)
		}
		if _, err := s.Get(ctx, kv.Key{"doc", "a"}); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("write leaked after rollback: %v", err)
		}
	})
}

func TestBadgerUpdateConflict(t *testing.T) {
	ctx := context.Background()
	s, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	key := kv.Key{"doc", "cast", "1000"}
	if err := s.Set(ctx, key, []byte("rev1")); err != nil {
		t.Fatal(err)
	}

	err = s.Update(ctx, func(tx kv.Txn) error {
		if _, err := tx.Get(key); err != nil {
			return err
		}
		// A concurrent writer commits between our read and our commit.
		if err := s.Set(ctx, key, []byte("rev2")); err != nil {
			return err
		}
		return tx.Set(key, []byte("rev3"))
	})
	if !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("Update err = %v, want ErrConflict", err)
	}
	got, _ := s.Get(ctx, key)
	if string(got) != "rev2" {
		t.Fatalf("value = %q, want rev2", got)
	}
}

func TestBadgerDirRequired(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Fatal("expected error when Dir is empty and InMemory is false")
	}
}

func TestSQLitePathRequired(t *testing.T) {
	if _, err := kv.NewSQLite(kv.SQLOptions{}); err == nil {
		t.Fatal("expected error when Path is empty")
	}
}

func TestMemoryValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(nil)

	key := kv.Key{"iso", "test"}
	original := []byte("original")
	if err := s.Set(ctx, key, original); err != nil {
		t.Fatalf("Set: %v", err)
	}

	original[0] = 'X'
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0] != 'o' {
		t.Fatal("store value was mutated via original slice")
	}

	got[0] = 'Y'
	got2, _ := s.Get(ctx, key)
	if got2[0] != 'o' {
		t.Fatal("store value was mutated via returned slice")
	}
}

func TestKeyAppend(t *testing.T) {
	base := kv.Key{"db", "m"}
	a := base.Append("doc")
	b := base.Append("idx")
	if a.String() != "db:m:doc" || b.String() != "db:m:idx" {
		t.Fatalf("Append = %v, %v", a, b)
	}
	if len(base) != 2 {
		t.Fatalf("base modified: %v", base)
	}
}
