package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server. Encoded keys are used verbatim
// as Redis keys, so several databases can share one server by prefix.
type Redis struct {
	rdb  *goredis.Client
	opts *Options
}

// RedisOptions configures the Redis store.
type RedisOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Addr is host:port of the Redis server. Required.
	Addr string

	Password string
	DB       int

	// DialTimeout defaults to 5s.
	DialTimeout time.Duration
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, ropts RedisOptions) (*Redis, error) {
	if ropts.Addr == "" {
		return nil, errors.New("kv: RedisOptions.Addr is required")
	}
	timeout := ropts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        ropts.Addr,
		Password:    ropts.Password,
		DB:          ropts.DB,
		DialTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}
	return &Redis{rdb: rdb, opts: ropts.Options}, nil
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	v, err := r.rdb.Get(ctx, string(r.opts.encode(key))).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte) error {
	return r.rdb.Set(ctx, string(r.opts.encode(key)), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.rdb.Del(ctx, string(r.opts.encode(key))).Err()
}

// List scans matching keys, sorts them, and fetches values in one MGET.
// Keys deleted between the scan and the MGET are skipped.
func (r *Redis) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := r.opts.prefixBytes(prefix)
	return func(yield func(Entry, error) bool) {
		var keys []string
		it := r.rdb.Scan(ctx, 0, globEscape(string(p))+"*", 256).Iterator()
		for it.Next(ctx) {
			if bytes.HasPrefix([]byte(it.Val()), p) {
				keys = append(keys, it.Val())
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry{}, err)
			return
		}
		if len(keys) == 0 {
			return
		}
		sort.Strings(keys)
		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if !yield(Entry{Key: r.opts.decode([]byte(keys[i])), Value: []byte(s)}, nil) {
				return
			}
		}
	}
}

func (r *Redis) BatchSet(ctx context.Context, entries []Entry) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, string(r.opts.encode(e.Key)), e.Value, 0)
		}
		return nil
	})
	return err
}

func (r *Redis) BatchDelete(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = string(r.opts.encode(k))
	}
	return r.rdb.Del(ctx, ks...).Err()
}

// Update runs fn against a buffered view, then WATCHes every key fn read,
// re-checks the observed values and commits the writes in MULTI/EXEC.
// Any divergence or an aborted EXEC yields ErrConflict.
func (r *Redis) Update(ctx context.Context, fn func(tx Txn) error) error {
	pt := newPendingTxn(r.opts, func(k []byte) ([]byte, error) {
		v, err := r.rdb.Get(ctx, string(k)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNotFound
		}
		return v, err
	})
	if err := fn(pt); err != nil {
		return err
	}
	if len(pt.order) == 0 {
		return nil
	}

	watched := make([]string, 0, len(pt.reads))
	for k := range pt.reads {
		watched = append(watched, k)
	}

	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		for _, k := range watched {
			cur, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, goredis.Nil):
				if pt.reads[k] != nil {
					return ErrConflict
				}
			case err != nil:
				return err
			default:
				if pt.reads[k] == nil || !bytes.Equal(cur, pt.reads[k]) {
					return ErrConflict
				}
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, k := range pt.order {
				if v := pt.writes[k]; v == nil {
					pipe.Del(ctx, k)
				} else {
					pipe.Set(ctx, k, v, 0)
				}
			}
			return nil
		})
		return err
	}, watched...)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// globEscape escapes Redis glob metacharacters in a literal prefix.
func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
