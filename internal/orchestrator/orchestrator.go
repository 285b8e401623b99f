// Package orchestrator implements the Data Orchestrator (C7, spec.md §4.7):
// the single read-path entry point for OHLCV bars. It chains DataSources in
// priority order, merges their results, deduplicates by timestamp (earlier
// source wins), sorts, and filters to the requested window.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/datasource"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/obslog"
)

// DefaultLimit is used when the caller supplies no explicit limit.
const DefaultLimit = 200

// Orchestrator fans a bar request out across an ordered list of
// datasource.Source values, per spec.md §4.7's pseudocode.
type Orchestrator struct {
	sources []datasource.Source
	metrics *metrics.MarketDataMetrics
}

// New constructs an Orchestrator over sources, in priority order
// (earliest = most authoritative on timestamp conflicts). m may be nil to
// disable metrics recording.
func New(sources []datasource.Source, m *metrics.MarketDataMetrics) *Orchestrator {
	return &Orchestrator{sources: sources, metrics: m}
}

// Fetch is the C7 entry point. since/before/limit are nil/zero-able: limit
// <= 0 uses DefaultLimit; before nil means now; since nil means "no lower
// bound, trim to the last `limit` bars after merge" (spec.md §9 Open
// Question (c), affirmed as the contract here).
func (o *Orchestrator) Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.OrchestratorLatency.Observe(time.Since(start).Seconds())
		}
	}()

	target := limit
	if target <= 0 {
		target = DefaultLimit
	}
	end := before
	if end == nil {
		now := time.Now().UnixMilli()
		end = &now
	}

	collected := make([][]bars.Bar, 0, len(o.sources))
	uniqueSeen := make(map[int64]struct{})

	for _, src := range o.sources {
		if !src.Supports(timeframe) {
			continue
		}

		fetched, err := src.Fetch(ctx, asset, timeframe, since, end, target)
		if err != nil {
			obslog.LogEvent(ctx, "warn", "orchestrator_source_failed", map[string]any{
				"error": err, "source": src.Name(), "asset": asset.String(), "timeframe": timeframe.Raw,
			})
			o.recordFetch(src.Name(), "error")
			continue
		}
		if len(fetched) == 0 {
			o.recordFetch(src.Name(), "empty")
			continue
		}
		o.recordFetch(src.Name(), "hit")
		collected = append(collected, fetched)
		for _, b := range fetched {
			uniqueSeen[b.Timestamp] = struct{}{}
		}

		if since == nil && len(uniqueSeen) >= target {
			break
		}
	}

	merged := dedupByTimestamp(collected)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return filter(merged, since, end, target), nil
}

func (o *Orchestrator) recordFetch(source, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.OrchestratorFetches.Inc("source", source, "outcome", outcome)
}

// dedupByTimestamp flattens collected in source-priority order and keeps
// the first occurrence of each timestamp, per spec.md §4.7's dedup policy
// ("first occurrence per timestamp wins... sources earlier in the chain
// are authoritative").
func dedupByTimestamp(collected [][]bars.Bar) []bars.Bar {
	seen := make(map[int64]bool)
	out := make([]bars.Bar, 0)
	for _, batch := range collected {
		for _, b := range batch {
			if seen[b.Timestamp] {
				continue
			}
			seen[b.Timestamp] = true
			out = append(out, b)
		}
	}
	return out
}

// filter applies the shared limit semantics (spec.md §4.5/§4.7): since nil
// keeps the last `limit` bars (newest end); since set keeps the first
// `limit` bars at or after since. before excludes bars with
// timestamp >= before. sorted must already be ascending.
func filter(sorted []bars.Bar, since, before *int64, limit int) []bars.Bar {
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
