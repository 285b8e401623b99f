package subscription

import (
	"context"
	"fmt"
	"sync"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/obslog"
)

// BackfillTrigger is the subset of *internal/backfill.Manager the
// Subscription Manager uses: a non-blocking gap check after serving the
// initial catch-up batch (spec.md §4.9 step 6).
type BackfillTrigger interface {
	MaybeTrigger(ctx context.Context, asset bars.Asset)
}

// Manager is the Subscription Manager (C9, spec.md §4.9): a registry of
// live entries, one per AssetKey, each backed by a poll task and a
// broadcaster task started lazily on first subscriber and stopped when the
// last subscriber leaves.
type Manager struct {
	cfg      Config
	fetcher  Fetcher
	backfill BackfillTrigger
	persist  PollPersister
	metrics  *metrics.MarketDataMetrics

	mu      sync.Mutex
	entries map[bars.AssetKey]*entry

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup
}

// New constructs a Manager. persist may be nil to disable poll-path 1m
// persistence (e.g. in tests).
func New(cfg Config, fetcher Fetcher, backfill BackfillTrigger, persist PollPersister, m *metrics.MarketDataMetrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:            cfg,
		fetcher:        fetcher,
		backfill:       backfill,
		persist:        persist,
		metrics:        m,
		entries:        make(map[bars.AssetKey]*entry),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Subscribe implements spec.md §4.9's flow: parse and validate the
// timeframe, attach the subscriber to its entry (creating the entry on
// first use), send a subscribed ack, serve an initial batch (catch-up since
// `since`, or the default chart window), kick a non-blocking backfill
// check, and ensure the entry's poll/broadcaster tasks are running.
func (m *Manager) Subscribe(ctx context.Context, market, provider, symbol, timeframeRaw string, since *int64, sub Subscriber) error {
	tf, err := bars.ParseTimeframe(timeframeRaw)
	if err != nil {
		_ = sub.Send(ctx, Frame{Type: FrameError, Symbol: symbol, Timeframe: timeframeRaw, Payload: MessagePayload{Message: fmt.Sprintf("invalid timeframe: %v", err)}})
		return err
	}

	asset := bars.Asset{Market: market, Provider: provider, Symbol: symbol}
	key := bars.AssetKey{Market: market, Provider: provider, Symbol: symbol, Timeframe: tf.Raw}

	e, created := m.getOrCreateEntry(key, tf)
	e.addSubscriber(sub)

	if err := sub.Send(ctx, Frame{Type: FrameSubscribed, Symbol: symbol, Timeframe: tf.Raw, Payload: MessagePayload{Message: fmt.Sprintf("subscribed to %s %s", symbol, tf.Raw)}}); err != nil {
		e.removeSubscriber(sub.ID())
		return err
	}

	limit := m.cfg.DefaultChartPoints
	fetchSince := since
	if since != nil {
		limit = m.cfg.CatchUpFetchLimit
	}
	initial, err := m.fetcher.Fetch(ctx, asset, tf, fetchSince, nil, limit)
	if err != nil {
		obslog.LogEvent(ctx, "warn", "subscription_initial_fetch_failed", map[string]any{"error": err, "asset": asset.String(), "timeframe": tf.Raw})
		_ = sub.Send(ctx, Frame{Type: FrameNotice, Symbol: symbol, Timeframe: tf.Raw, Payload: MessagePayload{Message: "initial data temporarily unavailable"}})
	} else if len(initial) > 0 {
		if err := sub.Send(ctx, Frame{Type: FrameData, Symbol: symbol, Timeframe: tf.Raw, Payload: toDataPayload(initial, true)}); err != nil {
			e.removeSubscriber(sub.ID())
			return err
		}
		e.setLastSentTS(latestTimestamp(initial))
	}

	if m.backfill != nil {
		m.backfill.MaybeTrigger(ctx, asset)
	}

	if created {
		m.startTasks(asset, e)
	}

	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.Add(1)
	}
	return nil
}

// Unsubscribe detaches sub from the given AssetKey's entry. If the entry's
// subscriber set becomes empty, its poll/broadcaster tasks are cancelled
// and the entry is removed from the registry.
func (m *Manager) Unsubscribe(key bars.AssetKey, subscriberID string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.Add(-1)
	}
	if empty := e.removeSubscriber(subscriberID); empty {
		m.teardown(key)
	}
}

// Shutdown cancels every entry's tasks and waits for them to exit.
func (m *Manager) Shutdown() {
	m.shutdownCancel()
	m.wg.Wait()
}

func (m *Manager) getOrCreateEntry(key bars.AssetKey, tf bars.Timeframe) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e, false
	}
	e := newEntry(key, tf, m.cfg.QueueSize)
	m.entries[key] = e
	return e, true
}

func (m *Manager) startTasks(asset bars.Asset, e *entry) {
	taskCtx, cancel := context.WithCancel(m.shutdownCtx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		runPoll(taskCtx, e, asset, m.fetcher, m.persist, m.metrics, m.cfg)
	}()
	go func() {
		defer m.wg.Done()
		runBroadcaster(taskCtx, e, m.metrics, func() { m.teardown(e.key) })
	}()
}

func (m *Manager) teardown(key bars.AssetKey) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
