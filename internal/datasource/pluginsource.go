package datasource

import (
	"context"
	"errors"
	"sort"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/obslog"
	"jax-marketdata-core/internal/plugin"
	"jax-marketdata-core/internal/resampler"
)

// PluginSource is C6: wraps a Plugin, performs paged fetching of raw bars,
// writes fetched 1m data back to the database and cache, and resamples
// when the caller's timeframe differs from what was actually fetched
// (spec.md §4.6).
type PluginSource struct {
	p           plugin.Plugin
	providerKey string
	cache       BarCache
	db          RawBarStore
}

// NewPluginSource constructs a source backed by p, serving only assets whose
// Provider matches providerKey (a MarketService wires one PluginSource per
// configured provider plugin instance into the orchestrator's chain).
// cache/db may be nil in a read-only deployment; persistence becomes a
// no-op in that case.
func NewPluginSource(p plugin.Plugin, providerKey string, c BarCache, db RawBarStore) *PluginSource {
	return &PluginSource{p: p, providerKey: providerKey, cache: c, db: db}
}

func (s *PluginSource) Name() string { return "plugin:" + s.p.Key() }

func (s *PluginSource) Supports(timeframe bars.Timeframe) bool {
	caps := s.p.SupportedFeatures()
	return caps.SupportsNative(plugin.FeatureFetchHistoricalOHLCV)
}

// Fetch pre-flights symbol/timeframe validity, decides whether to fetch
// natively or degrade to 1m+resample, then runs the chunked fetch loop of
// spec.md §4.6.
func (s *PluginSource) Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	if limit <= 0 {
		limit = 1
	}
	if asset.Provider != s.providerKey {
		return nil, nil
	}

	valid, err := s.p.ValidateSymbol(ctx, asset.Symbol)
	if err != nil && plugin.IsPermanent(err) {
		return nil, err
	}
	if err == nil && !valid {
		return nil, nil
	}

	fetchTF := timeframe
	if !s.nativelySupported(timeframe) {
		fetchTF = bars.OneMinute
	} else if checker, ok := s.p.(plugin.HistoricalAvailabilityChecker); ok && since != nil {
		avail, err := checker.GetHistoricalDataAvailability(ctx, asset.Symbol, timeframe)
		if err != nil {
			obslog.LogEvent(ctx, "warn", "plugin_source_availability_check_failed", map[string]any{"error": err, "asset": asset.String()})
		} else if avail != nil && *avail > *since {
			fetchTF = bars.OneMinute
		}
	}

	fetched, err := s.chunkedFetch(ctx, asset, fetchTF, since, before, scaleLimit(limit, timeframe, fetchTF))
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, nil
	}

	if fetchTF.Raw == bars.OneMinute.Raw {
		s.persist1m(ctx, asset, fetched)
	}

	result := fetched
	if fetchTF.Raw != timeframe.Raw {
		result = resampler.Resample(fetched, timeframe)
	}
	return filterAndTrim(result, since, before, limit), nil
}

func (s *PluginSource) nativelySupported(timeframe bars.Timeframe) bool {
	for _, tf := range s.p.GetSupportedTimeframes() {
		if tf == timeframe.Raw {
			return true
		}
	}
	return false
}

// scaleLimit widens the requested limit when the actual fetch timeframe is
// finer than the caller's target, so enough raw bars are pulled to
// resample the requested count.
func scaleLimit(limit int, target, fetchTF bars.Timeframe) int {
	if fetchTF.Raw == target.Raw || fetchTF.PeriodMs == 0 {
		return limit
	}
	ratio := target.PeriodMs / fetchTF.PeriodMs
	if ratio < 1 {
		ratio = 1
	}
	return int(ratio)*limit + cacheSourceSafetyBars
}

// chunkedFetch implements spec.md §4.6's paged fetch loop: forward paging
// from a caller-supplied since, or backward paging from now when since is
// omitted. Stops when enough unique bars are collected, a chunk returns
// fewer bars than requested, or the next window collapses to zero
// duration.
func (s *PluginSource) chunkedFetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, needed int) ([]bars.Bar, error) {
	chunkLimit := needed
	if max := s.p.GetMaxFetchLimit(timeframe); max > 0 && max < chunkLimit {
		chunkLimit = max
	}
	if chunkLimit <= 0 {
		chunkLimit = needed
	}

	seen := make(map[int64]bars.Bar)
	forward := since != nil

	cursorSince := since
	cursorBefore := before

	for len(seen) < needed {
		chunk, err := s.p.FetchHistoricalOHLCV(ctx, asset.Symbol, timeframe, cursorSince, cursorBefore, chunkLimit)
		if err != nil {
			if plugin.IsTransient(err) {
				obslog.LogEvent(ctx, "warn", "plugin_source_chunk_transient_error", map[string]any{"error": err, "asset": asset.String()})
				break
			}
			return nil, errors.Join(plugin.ErrPlugin, err)
		}
		if len(chunk) == 0 {
			break
		}

		for _, b := range chunk {
			seen[b.Timestamp] = b
		}

		exhausted := len(chunk) < chunkLimit
		sort.Slice(chunk, func(i, j int) bool { return chunk[i].Timestamp < chunk[j].Timestamp })

		if forward {
			next := chunk[len(chunk)-1].Timestamp + timeframe.PeriodMs
			if cursorBefore != nil && next >= *cursorBefore {
				break
			}
			cursorSince = &next
		} else {
			next := chunk[0].Timestamp
			if cursorBefore != nil && next >= *cursorBefore {
				break
			}
			cursorBefore = &next
		}

		if exhausted {
			break
		}
	}

	out := make([]bars.Bar, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// persist1m best-effort writes fetched 1m bars back to the database and
// cache, per spec.md §4.6. Failures are logged, never surfaced.
func (s *PluginSource) persist1m(ctx context.Context, asset bars.Asset, group []bars.Bar) {
	if s.db != nil {
		key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: bars.OneMinute.Raw}
		if err := s.db.UpsertBars(ctx, key, group); err != nil {
			obslog.LogEvent(ctx, "warn", "plugin_source_db_upsert_failed", map[string]any{"error": err, "asset": asset.String()})
		}
	}
	if s.cache != nil {
		s.cache.Store1m(ctx, asset, group)
	}
}
