// Package datasource implements the three DataSource chain links of
// spec.md §4.4-§4.6: the Aggregate View Source (C4), the Cache Source (C5)
// and the Plugin Source (C6). Each implements the shared Source interface
// so the Data Orchestrator (internal/orchestrator) can hold a plain slice
// of them, per spec.md §9's "dynamic dispatch on DataSources... expressed
// as an interface" design note.
package datasource

import (
	"context"

	"jax-marketdata-core/internal/bars"
)

// BarCache is the subset of *internal/cache.Cache that CacheSource and
// PluginSource depend on. Declared here (consumer side) so tests can
// substitute a fake instead of a real Redis client.
type BarCache interface {
	Get1m(ctx context.Context, asset bars.Asset, since, before *int64, limit int) ([]bars.Bar, bool)
	Store1m(ctx context.Context, asset bars.Asset, group []bars.Bar)
	GetResampled(ctx context.Context, key bars.AssetKey) ([]bars.Bar, bool)
	SetResampled(ctx context.Context, key bars.AssetKey, result []bars.Bar)
}

// RawBarStore is the subset of *internal/store.Store that CacheSource and
// PluginSource depend on for 1m persistence and fallback reads.
type RawBarStore interface {
	QueryBars(ctx context.Context, key bars.AssetKey, since, before *int64, limit int) ([]bars.Bar, error)
	UpsertBars(ctx context.Context, key bars.AssetKey, group []bars.Bar) error
}

// Source is the shared DataSource contract. Supports reports whether this
// source can serve timeframe at all; Fetch does the actual read for one
// asset, honoring the same (since, before, limit) semantics as the
// orchestrator (spec.md §4.5's limit semantics apply uniformly across
// sources). since/before are nil-able: nil since means "no lower bound",
// nil before means "now".
type Source interface {
	Name() string
	Supports(timeframe bars.Timeframe) bool
	Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error)
}

// filterAndTrim applies the shared limit semantics used across the cache,
// datasource, and orchestrator layers: with since nil, keep the last limit
// bars (newest end); with since set, keep the first limit bars at or after
// since. before, if set, excludes bars with timestamp >= before. Input must
// already be sorted ascending.
func filterAndTrim(sorted []bars.Bar, since, before *int64, limit int) []bars.Bar {
	out := make([]bars.Bar, 0, len(sorted))
	for _, b := range sorted {
		if since != nil && b.Timestamp < *since {
			continue
		}
		if before != nil && b.Timestamp >= *before {
			continue
		}
		out = append(out, b)
	}
	if limit <= 0 || len(out) <= limit {
		return out
	}
	if since == nil {
		return out[len(out)-limit:]
	}
	return out[:limit]
}
