package datasource

import (
	"context"
	"math"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/obslog"
	"jax-marketdata-core/internal/resampler"
)

// cacheSourceSafetyBars is the default safety margin added to the derived
// 1m limit to absorb bucket-boundary effects when resampling, per
// spec.md §4.5 ("default safety ~200 bars").
const cacheSourceSafetyBars = 200

// CacheSource is C5: wraps the Cache plus a raw-bar database fallback and
// the Resampler. Serves non-1m timeframes from the resampled cache,
// falling back to 1m bars (cache, then DB) and resampling on demand
// (spec.md §4.5).
type CacheSource struct {
	cache BarCache
	db    RawBarStore
}

// NewCacheSource constructs a source backed by c and db. db may be nil if
// the deployment has no raw-bar database fallback wired (cache-only mode);
// in that case a 1m cache miss simply returns nothing for this source and
// the orchestrator falls through to the Plugin Source.
func NewCacheSource(c BarCache, db RawBarStore) *CacheSource {
	return &CacheSource{cache: c, db: db}
}

func (s *CacheSource) Name() string { return "cache" }

// Supports is always true: the Cache Source can serve 1m directly and any
// higher timeframe by resampling 1m, per spec.md §4.5.
func (s *CacheSource) Supports(timeframe bars.Timeframe) bool { return true }

func (s *CacheSource) Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	if limit <= 0 {
		limit = 1
	}

	if timeframe.Raw != bars.OneMinute.Raw {
		key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: timeframe.Raw}
		if resampled, ok := s.cache.GetResampled(ctx, key); ok {
			return filterAndTrim(resampled, since, before, limit), nil
		}
	}

	oneMin, err := s.fetch1m(ctx, asset, timeframe, since, before, limit)
	if err != nil {
		return nil, err
	}
	if len(oneMin) == 0 {
		return nil, nil
	}

	if timeframe.Raw == bars.OneMinute.Raw {
		return filterAndTrim(oneMin, since, before, limit), nil
	}

	resampled := resampler.Resample(oneMin, timeframe)
	key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: timeframe.Raw}
	s.cache.SetResampled(ctx, key, resampled)
	return filterAndTrim(resampled, since, before, limit), nil
}

// fetch1m computes the widened 1m window needed to cover limit bars of
// timeframe after resampling, tries the cache, then falls back to the raw
// database, per spec.md §4.5's limit_1m / since_1m derivation.
func (s *CacheSource) fetch1m(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	ratio := timeframe.PeriodMs / bars.OneMinute.PeriodMs
	if ratio < 1 {
		ratio = 1
	}
	limit1m := int(math.Ceil(float64(limit)*float64(ratio))) + int(ratio) + cacheSourceSafetyBars

	since1m := since
	if since1m == nil {
		end := int64(0)
		if before != nil {
			end = *before
		}
		derived := end - int64(limit1m)*bars.OneMinute.PeriodMs
		since1m = &derived
	}

	if cached, ok := s.cache.Get1m(ctx, asset, since1m, before, limit1m); ok && len(cached) > 0 {
		return cached, nil
	}

	if s.db == nil {
		return nil, nil
	}
	key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: bars.OneMinute.Raw}
	out, err := s.db.QueryBars(ctx, key, since1m, before, limit1m)
	if err != nil {
		obslog.LogEvent(ctx, "warn", "cache_source_db_fallback_failed", map[string]any{"error": err, "asset": asset.String()})
		return nil, nil
	}
	return out, nil
}
