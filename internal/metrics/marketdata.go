package metrics

// MarketDataMetrics is the pre-wired set of metrics for the market-data
// pipeline: orchestrator fan-out, cache effectiveness, backfill progress,
// and subscription health.
type MarketDataMetrics struct {
	// OrchestratorFetches counts orchestrator.Fetch calls by source and
	// outcome ("hit"/"empty"/"error").
	OrchestratorFetches *Counter
	// OrchestratorLatency is fetch latency in seconds, end to end.
	OrchestratorLatency *Histogram
	// CacheHits/CacheMisses count 1m-group and resampled cache lookups by
	// kind ("1m"/"resampled").
	CacheHits   *Counter
	CacheMisses *Counter
	// BackfillChunks counts completed backfill chunks by outcome.
	BackfillChunks *Counter
	// BackfillGapDays is the gap (in days) detected at trigger time.
	BackfillGapDays *Histogram
	// ActiveSubscriptions is raised by each successful Subscribe and
	// lowered by each Unsubscribe of a live entry, i.e. it counts attached
	// subscribers rather than registry entries.
	ActiveSubscriptions *Gauge
	// PollFailures counts every failed poll, labeled by asset and
	// timeframe.
	PollFailures *Counter
	// BroadcastDropped counts subscribers dropped after a failed or
	// timed-out Send.
	BroadcastDropped *Counter
}

// NewMarketDataMetrics registers all standard market-data metrics into reg.
func NewMarketDataMetrics(reg *Registry) *MarketDataMetrics {
	return &MarketDataMetrics{
		OrchestratorFetches: reg.NewCounter(
			"marketdata_orchestrator_fetches_total",
			"Orchestrator source fetches by source and outcome."),
		OrchestratorLatency: reg.NewHistogram(
			"marketdata_orchestrator_fetch_seconds",
			"Orchestrator end-to-end fetch latency in seconds.",
			DefaultBuckets),
		CacheHits: reg.NewCounter(
			"marketdata_cache_hits_total",
			"Cache lookups that returned data, by kind."),
		CacheMisses: reg.NewCounter(
			"marketdata_cache_misses_total",
			"Cache lookups that missed, by kind."),
		BackfillChunks: reg.NewCounter(
			"marketdata_backfill_chunks_total",
			"Backfill chunks processed, by outcome."),
		BackfillGapDays: reg.NewHistogram(
			"marketdata_backfill_gap_days",
			"Historical gap size in days at backfill trigger time.",
			[]float64{1, 2, 5, 10, 20, 30, 60, 90}),
		ActiveSubscriptions: reg.NewGauge(
			"marketdata_active_subscriptions",
			"Current number of attached subscribers."),
		PollFailures: reg.NewCounter(
			"marketdata_poll_failures_total",
			"Poll loop failures observed, by asset and timeframe."),
		BroadcastDropped: reg.NewCounter(
			"marketdata_broadcast_dropped_total",
			"Subscribers dropped by the broadcaster after a failed send."),
	}
}
