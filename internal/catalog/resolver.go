package catalog

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Defaults for batched lookups.
const (
	DefaultChunkSize = 200
	DefaultFanout    = 4
)

// LocalStore searches the tenant catalog in batches.
type LocalStore interface {
	FindByCodes(ctx context.Context, tenantID int64, codes []string) ([]Product, error)
	FindByLegacyCodes(ctx context.Context, tenantID int64, codes []string) ([]Product, error)
}

// GlobalStore searches the reference catalog in batches.
type GlobalStore interface {
	FindByCodes(ctx context.Context, codes []string) ([]GlobalProduct, error)
	FindByLegacyCodes(ctx context.Context, codes []string) ([]GlobalProduct, error)
}

// BatchObserver is notified of every batched query.
type BatchObserver interface {
	ObserveCatalogBatch(phase string, size int)
}

// ResolverConfig tunes chunking.
type ResolverConfig struct {
	ChunkSize int
	Fanout    int
	Observer  BatchObserver
}

// Resolver maps external codes to catalog products with chunked lookups.
type Resolver struct {
	local    LocalStore
	global   GlobalStore
	chunk    int
	fanout   int
	observer BatchObserver
	batches  atomic.Int64
}

// Stats reports resolver activity.
type Stats struct {
	Batches int64
}

// NewResolver builds a Resolver. global may be nil.
func NewResolver(local LocalStore, global GlobalStore, cfg ResolverConfig) *Resolver {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = DefaultFanout
	}
	return &Resolver{local: local, global: global, chunk: cfg.ChunkSize, fanout: cfg.Fanout, observer: cfg.Observer}
}

// Stats returns the number of batched queries issued so far.
func (r *Resolver) Stats() Stats {
	return Stats{Batches: r.batches.Load()}
}

// Resolve searches the tenant catalog by primary code, then by legacy code
// for the remainder. Codes never match approximately.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, codes []string) (Resolution, error) {
	keys := normalizeCodes(codes)
	res := Resolution{Resolved: make(map[string]ResolvedProduct, len(keys))}
	if len(keys) == 0 {
		return res, nil
	}

	primary, err := batched(ctx, r, "local_primary", keys, func(ctx context.Context, chunk []string) ([]Product, error) {
		return r.local.FindByCodes(ctx, tenantID, chunk)
	})
	if err != nil {
		return Resolution{}, err
	}
	for code, p := range pickLowest(primary, func(p Product) string { return p.Code }) {
		res.Resolved[code] = ResolvedProduct{Code: code, ProductID: p.ID, CategoryID: p.CategoryID, Label: p.Label, Source: MatchPrimary}
	}

	remaining := missing(keys, res.Resolved)
	if len(remaining) > 0 {
		legacy, err := batched(ctx, r, "local_legacy", remaining, func(ctx context.Context, chunk []string) ([]Product, error) {
			return r.local.FindByLegacyCodes(ctx, tenantID, chunk)
		})
		if err != nil {
			return Resolution{}, err
		}
		for code, p := range pickLowest(legacy, func(p Product) string { return p.LegacyCode }) {
			res.Resolved[code] = ResolvedProduct{Code: code, ProductID: p.ID, CategoryID: p.CategoryID, Label: p.Label, Source: MatchLegacy}
		}
	}

	res.Unresolved = missing(keys, res.Resolved)
	return res, nil
}

// LookupGlobal searches the reference catalog with the same chunking. It
// returns the entries found by requested code and the codes not found.
func (r *Resolver) LookupGlobal(ctx context.Context, codes []string) (map[string]GlobalProduct, []string, error) {
	keys := normalizeCodes(codes)
	if len(keys) == 0 {
		return map[string]GlobalProduct{}, nil, nil
	}
	if r.global == nil {
		return map[string]GlobalProduct{}, keys, nil
	}

	found := make(map[string]GlobalProduct, len(keys))
	primary, err := batched(ctx, r, "global_primary", keys, r.global.FindByCodes)
	if err != nil {
		return nil, nil, err
	}
	for _, g := range primary {
		if _, seen := found[g.Code]; !seen {
			found[g.Code] = g
		}
	}

	remaining := missing(keys, found)
	if len(remaining) > 0 {
		legacy, err := batched(ctx, r, "global_legacy", remaining, r.global.FindByLegacyCodes)
		if err != nil {
			return nil, nil, err
		}
		for _, g := range legacy {
			if _, seen := found[g.LegacyCode]; !seen {
				found[g.LegacyCode] = g
			}
		}
	}
	return found, missing(keys, found), nil
}

// batched splits keys into chunks and runs fetch with bounded concurrency.
// Results are concatenated in chunk order once every chunk returned.
func batched[T any](ctx context.Context, r *Resolver, phase string, keys []string, fetch func(context.Context, []string) ([]T, error)) ([]T, error) {
	chunks := chunk(keys, r.chunk)
	results := make([][]T, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			r.batches.Add(1)
			if r.observer != nil {
				r.observer.ObserveCatalogBatch(phase, len(c))
			}
			rows, err := fetch(gctx, c)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []T
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func chunk(keys []string, size int) [][]string {
	out := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		out = append(out, keys[start:end])
	}
	return out
}

// pickLowest keeps, per code, the product with the lowest id.
func pickLowest(products []Product, codeOf func(Product) string) map[string]Product {
	out := make(map[string]Product, len(products))
	for _, p := range products {
		code := codeOf(p)
		if code == "" {
			continue
		}
		if cur, ok := out[code]; !ok || p.ID < cur.ID {
			out[code] = p
		}
	}
	return out
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func missing[V any](keys []string, found map[string]V) []string {
	var out []string
	for _, k := range keys {
		if _, ok := found[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
