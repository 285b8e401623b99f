// Package backfill implements the Backfill Manager (C8, spec.md §4.8):
// gap detection against stored 1m history and chunked historical fill via
// a Plugin, with per-asset exclusion so only one fill task runs per
// (market, provider, symbol) at a time.
package backfill

import (
	"context"
	"sync"
	"time"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/obslog"
	"jax-marketdata-core/internal/plugin"
)

// Config bounds the backfill task's behavior, per spec.md §6.
type Config struct {
	DefaultBackfillPeriod time.Duration // spec default: 30 days
	ChunkSize             int           // spec default: 500
	ChunkDelay            time.Duration // spec default: 1.5s
	MaxChunks             int           // spec default: 100
	GapMargin             time.Duration // spec default: 1 day
	RetryConfig           plugin.RetryConfig
}

func DefaultConfig() Config {
	return Config{
		DefaultBackfillPeriod: 30 * 24 * time.Hour,
		ChunkSize:             500,
		ChunkDelay:            1500 * time.Millisecond,
		MaxChunks:             100,
		GapMargin:             24 * time.Hour,
		RetryConfig:           plugin.DefaultRetryConfig(),
	}
}

// Store is the subset of *internal/store.Store the Backfill Manager needs:
// reading the current 1m floor and upserting fetched chunks.
type Store interface {
	MinTimestamp(ctx context.Context, asset bars.Asset) (int64, bool, error)
	UpsertBars(ctx context.Context, key bars.AssetKey, group []bars.Bar) error
}

// Cache is the subset of *internal/cache.Cache the Backfill Manager uses
// for best-effort chunk persistence.
type Cache interface {
	Store1m(ctx context.Context, asset bars.Asset, group []bars.Bar)
}

// PluginLookup resolves the Plugin responsible for asset.Provider. A
// MarketService typically owns exactly one plugin per provider; this
// indirection lets the manager serve multiple providers if wired that way.
type PluginLookup func(provider string) (plugin.Plugin, bool)

// taskRecord is the in-memory per-asset backfill state of spec.md §3
// ("Backfill task record"): an optional running task handle and an
// exclusion lock.
type taskRecord struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// Manager runs at most one backfill task per (market, provider, symbol) at
// a time, purely in-memory (spec.md §3: "Purely in-memory").
type Manager struct {
	cfg     Config
	store   Store
	cache   Cache
	lookup  PluginLookup
	metrics *metrics.MarketDataMetrics

	mu    sync.Mutex
	tasks map[string]*taskRecord

	now func() time.Time
}

// New constructs a Manager. cache and m may be nil to disable the cache
// write-through and the metrics respectively (tests exercise this).
func New(cfg Config, store Store, cache Cache, lookup PluginLookup, m *metrics.MarketDataMetrics) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		lookup:  lookup,
		metrics: m,
		tasks:   make(map[string]*taskRecord),
		now:     time.Now,
	}
}

// MaybeTrigger is the entry point the Subscription Manager calls after
// serving a subscriber's initial batch (spec.md §4.8 step 1-4); the
// orchestrator's request path does not call it. It detects a gap and, if one exists
// and no task is already running for asset, spawns a background task. It
// never blocks the caller.
func (m *Manager) MaybeTrigger(ctx context.Context, asset bars.Asset) {
	go func() {
		bgCtx := context.Background()
		if err := m.checkAndRun(bgCtx, asset); err != nil {
			obslog.LogEvent(bgCtx, "warn", "backfill_trigger_failed", map[string]any{"error": err, "asset": asset.String()})
		}
	}()
}

func (m *Manager) checkAndRun(ctx context.Context, asset bars.Asset) error {
	targetOldest := m.now().Add(-m.cfg.DefaultBackfillPeriod).UnixMilli()

	minTS, exists, err := m.store.MinTimestamp(ctx, asset)
	if err != nil {
		return err
	}

	gap := !exists || minTS > targetOldest+m.cfg.GapMargin.Milliseconds()
	if !gap {
		return nil
	}

	rec, started := m.tryStart(asset)
	if !started {
		return nil
	}
	defer m.finish(asset)

	p, ok := m.lookup(asset.Provider)
	if !ok {
		obslog.LogEvent(ctx, "warn", "backfill_no_plugin_for_provider", map[string]any{"asset": asset.String()})
		return nil
	}

	if m.metrics != nil {
		gapDays := float64(minTS-targetOldest) / float64(24*time.Hour/time.Millisecond)
		if !exists {
			gapDays = float64(m.cfg.DefaultBackfillPeriod / (24 * time.Hour))
		}
		m.metrics.BackfillGapDays.Observe(gapDays)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	rec.mu.Lock()
	rec.cancel = cancel
	rec.mu.Unlock()
	defer cancel()

	m.run(taskCtx, asset, p, targetOldest, minTS, exists)
	return nil
}

func (m *Manager) tryStart(asset bars.Asset) (*taskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[asset.String()]
	if !ok {
		rec = &taskRecord{}
		m.tasks[asset.String()] = rec
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.running {
		return nil, false
	}
	rec.running = true
	return rec, true
}

func (m *Manager) finish(asset bars.Asset) {
	m.mu.Lock()
	rec, ok := m.tasks[asset.String()]
	m.mu.Unlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.running = false
	rec.cancel = nil
	rec.mu.Unlock()
}

// Cancel stops a running task for asset, if any; the task then returns
// and releases its lock.
func (m *Manager) Cancel(asset bars.Asset) {
	m.mu.Lock()
	rec, ok := m.tasks[asset.String()]
	m.mu.Unlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	cancel := rec.cancel
	rec.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run executes the chunked backward fill loop of spec.md §4.8.
func (m *Manager) run(ctx context.Context, asset bars.Asset, p plugin.Plugin, targetOldest, minTS int64, hadData bool) {
	currentEarliest := m.now().UnixMilli()
	if hadData {
		currentEarliest = minTS
	}

	key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: bars.OneMinute.Raw}

	for chunkNum := 0; chunkNum < m.cfg.MaxChunks; chunkNum++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if currentEarliest <= targetOldest {
			break
		}

		sinceOfChunk := currentEarliest - int64(m.cfg.ChunkSize)*bars.OneMinute.PeriodMs

		chunk, err := plugin.WithRetry(ctx, m.cfg.RetryConfig, func(ctx context.Context) ([]bars.Bar, error) {
			return p.FetchHistoricalOHLCV(ctx, asset.Symbol, bars.OneMinute, &sinceOfChunk, &currentEarliest, m.cfg.ChunkSize)
		})
		if err != nil {
			obslog.LogEvent(ctx, "error", "backfill_chunk_permanent_error", map[string]any{"error": err, "asset": asset.String()})
			m.recordChunk("error")
			return
		}
		if len(chunk) == 0 {
			m.recordChunk("empty")
			break
		}

		filtered := filterOlderThan(chunk, currentEarliest, targetOldest)
		if len(filtered) == 0 {
			m.recordChunk("no_new_bars")
			break
		}

		if err := m.store.UpsertBars(ctx, key, filtered); err != nil {
			obslog.LogEvent(ctx, "error", "backfill_chunk_upsert_failed", map[string]any{"error": err, "asset": asset.String()})
			m.recordChunk("upsert_error")
		} else {
			if m.cache != nil {
				m.cache.Store1m(ctx, asset, filtered)
			}
			m.recordChunk("ok")
		}

		newEarliest := earliestTimestamp(filtered)
		if newEarliest >= currentEarliest {
			break
		}
		currentEarliest = newEarliest

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ChunkDelay):
		}
	}
}

func (m *Manager) recordChunk(outcome string) {
	if m.metrics != nil {
		m.metrics.BackfillChunks.Inc("outcome", outcome)
	}
}

func filterOlderThan(chunk []bars.Bar, currentEarliest, targetOldest int64) []bars.Bar {
	out := make([]bars.Bar, 0, len(chunk))
	for _, b := range chunk {
		if b.Timestamp < currentEarliest && b.Timestamp >= targetOldest {
			out = append(out, b)
		}
	}
	return out
}

func earliestTimestamp(group []bars.Bar) int64 {
	min := group[0].Timestamp
	for _, b := range group[1:] {
		if b.Timestamp < min {
			min = b.Timestamp
		}
	}
	return min
}
