package graph

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/haivivi/mediamgr/pkg/kv"
)

// KV key layout (relative to the configured prefix):
//
//	{prefix}:out:{collection}:{from}:{edgeKey}  → to   (forward index)
//	{prefix}:in:{collection}:{to}:{edgeKey}     → from (reverse index)

// KVGraph is a Graph implementation backed by a kv.Store.
// All keys are scoped under a configurable prefix, allowing several
// databases to share a single KV store.
type KVGraph struct {
	store  kv.Store
	prefix kv.Key
}

// NewKVGraph creates a new KVGraph using the given store and key prefix.
// The prefix is prepended to all keys, e.g. prefix = {"db", "mediamgr", "adj"}
// results in keys like "db:mediamgr:adj:out:appears_in:cast/1000:e1".
func NewKVGraph(store kv.Store, prefix kv.Key) *KVGraph {
	return &KVGraph{store: store, prefix: prefix}
}

// validateSegments checks that none of the given strings contain the KV
// separator character.
func validateSegments(segs ...string) error {
	sep := string(kv.DefaultSeparator)
	for _, s := range segs {
		if strings.Contains(s, sep) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, s, sep)
		}
	}
	return nil
}

func (g *KVGraph) outKey(e Edge) kv.Key {
	return g.prefix.Append("out", e.Collection, e.From, e.Key)
}

func (g *KVGraph) inKey(e Edge) kv.Key {
	return g.prefix.Append("in", e.Collection, e.To, e.Key)
}

func (g *KVGraph) Link(tx kv.Txn, e Edge) error {
	if err := validateSegments(e.Collection, e.Key, e.From, e.To); err != nil {
		return err
	}
	if err := tx.Set(g.outKey(e), []byte(e.To)); err != nil {
		return err
	}
	return tx.Set(g.inKey(e), []byte(e.From))
}

func (g *KVGraph) Unlink(tx kv.Txn, e Edge) error {
	if err := validateSegments(e.Collection, e.Key, e.From, e.To); err != nil {
		return err
	}
	if err := tx.Delete(g.outKey(e)); err != nil {
		return err
	}
	return tx.Delete(g.inKey(e))
}

func (g *KVGraph) Edges(ctx context.Context, vertex string, dir Direction, collections ...string) ([]Edge, error) {
	if err := validateSegments(vertex); err != nil {
		return nil, err
	}
	if err := validateSegments(collections...); err != nil {
		return nil, err
	}
	if dir < Outbound || dir > Any {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, int(dir))
	}

	var edges []Edge
	plen := len(g.prefix)
	for _, coll := range collections {
		if dir == Outbound || dir == Any {
			for entry, err := range g.store.List(ctx, g.prefix.Append("out", coll, vertex)) {
				if err != nil {
					return nil, err
				}
				// Key: {prefix}:out:{collection}:{from}:{edgeKey}
				if len(entry.Key) != plen+4 {
					continue
				}
				edges = append(edges, Edge{
					Collection: coll,
					Key:        entry.Key[plen+3],
					From:       vertex,
					To:         string(entry.Value),
				})
			}
		}
		if dir == Inbound || dir == Any {
			for entry, err := range g.store.List(ctx, g.prefix.Append("in", coll, vertex)) {
				if err != nil {
					return nil, err
				}
				if len(entry.Key) != plen+4 {
					continue
				}
				from := string(entry.Value)
				// Self-loops are already captured by the outbound scan.
				if dir == Any && from == vertex {
					continue
				}
				edges = append(edges, Edge{
					Collection: coll,
					Key:        entry.Key[plen+3],
					From:       from,
					To:         vertex,
				})
			}
		}
	}
	return edges, nil
}

func (g *KVGraph) Walk(ctx context.Context, start string, opts WalkOptions) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		if err := validateSegments(start); err != nil {
			yield(Step{}, err)
			return
		}
		if opts.MinDepth < 0 || opts.MaxDepth < opts.MinDepth {
			yield(Step{}, fmt.Errorf("graph: invalid depth range %d..%d", opts.MinDepth, opts.MaxDepth))
			return
		}
		if opts.MinDepth == 0 {
			if !yield(Step{Vertex: start}, nil) {
				return
			}
		}

		// The start vertex is reported again only when a self-loop reaches
		// it, and never twice.
		startSeen := opts.MinDepth == 0
		visited := map[string]struct{}{start: {}}
		frontier := []string{start}
		for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, v := range frontier {
				if err := ctx.Err(); err != nil {
					yield(Step{}, err)
					return
				}
				edges, err := g.Edges(ctx, v, opts.Direction, opts.Collections...)
				if err != nil {
					yield(Step{}, err)
					return
				}
				for _, e := range edges {
					n := e.Other(v)
					if n == start && e.From == e.To && !startSeen {
						startSeen = true
						if depth >= opts.MinDepth {
							if !yield(Step{Vertex: n, Edge: e, Depth: depth}, nil) {
								return
							}
						}
						continue
					}
					if _, ok := visited[n]; ok {
						continue
					}
					visited[n] = struct{}{}
					next = append(next, n)
					if depth >= opts.MinDepth {
						if !yield(Step{Vertex: n, Edge: e, Depth: depth}, nil) {
							return
						}
					}
				}
			}
			frontier = next
		}
	}
}
