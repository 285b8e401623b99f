package datasource

import (
	"context"
	"sync"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/obslog"
	"jax-marketdata-core/internal/store"
)

// AggregateViewStore is the subset of *internal/store.Store the Aggregate
// View Source depends on.
type AggregateViewStore interface {
	LoadAggregateViewConfigs(ctx context.Context) ([]store.AggregateViewConfig, error)
	QueryAggregateView(ctx context.Context, view string, key bars.AssetKey, since, before *int64, limit int) ([]bars.Bar, error)
}

// AggregateViewSource is C4: read-only access to precomputed continuous
// aggregates (spec.md §4.4). On first use it loads the active
// target_timeframe -> view_name configuration and caches it process-wide,
// per spec.md §9's "Global state... initialized once under a mutex and
// treated as immutable thereafter".
type AggregateViewSource struct {
	db AggregateViewStore

	once     sync.Once
	loadErr  error
	viewByTF map[string]string
	loadMu   sync.Mutex
	loaded   bool
}

// NewAggregateViewSource constructs a source backed by db. Configuration is
// lazily loaded on first Fetch/Supports call.
func NewAggregateViewSource(db AggregateViewStore) *AggregateViewSource {
	return &AggregateViewSource{db: db}
}

func (s *AggregateViewSource) Name() string { return "aggregate_view" }

// Refresh reloads the view configuration, replacing the map atomically
// (spec.md §9: "hot-reloading, if desired, replaces the whole map
// atomically"). Safe to call concurrently with Fetch/Supports.
func (s *AggregateViewSource) Refresh(ctx context.Context) error {
	configs, err := s.db.LoadAggregateViewConfigs(ctx)
	if err != nil {
		return err
	}
	m := make(map[string]string, len(configs))
	for _, c := range configs {
		if c.IsActive {
			m[c.TargetTimeframe] = c.ViewName
		}
	}
	s.loadMu.Lock()
	s.viewByTF = m
	s.loaded = true
	s.loadMu.Unlock()
	return nil
}

func (s *AggregateViewSource) ensureLoaded(ctx context.Context) {
	s.once.Do(func() {
		if err := s.Refresh(ctx); err != nil {
			s.loadErr = err
			obslog.LogEvent(ctx, "error", "aggregate_view_config_load_failed", map[string]any{"error": err})
		}
	})
}

func (s *AggregateViewSource) viewFor(timeframe string) (string, bool) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if !s.loaded {
		return "", false
	}
	v, ok := s.viewByTF[timeframe]
	return v, ok
}

// Supports reports whether an active aggregate view exists for timeframe.
// 1m is never served from an aggregate (spec.md §4.4: "Returns [] for 1m").
func (s *AggregateViewSource) Supports(timeframe bars.Timeframe) bool {
	if timeframe.Raw == bars.OneMinute.Raw {
		return false
	}
	ctx := context.Background()
	s.ensureLoaded(ctx)
	_, ok := s.viewFor(timeframe.Raw)
	return ok
}

// Fetch queries the view configured for timeframe, filtered to
// [since, before) and bounded by limit, ascending by bucketed_time per
// spec.md §4.4's exact query shape.
func (s *AggregateViewSource) Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	if timeframe.Raw == bars.OneMinute.Raw {
		return nil, nil
	}
	s.ensureLoaded(ctx)
	view, ok := s.viewFor(timeframe.Raw)
	if !ok {
		return nil, nil
	}

	key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: timeframe.Raw}
	out, err := s.db.QueryAggregateView(ctx, view, key, since, before, limit)
	if err != nil {
		obslog.LogEvent(ctx, "warn", "aggregate_view_query_failed", map[string]any{"error": err, "view": view, "asset": asset.String()})
		return nil, err
	}
	return out, nil
}
