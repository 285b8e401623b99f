package plugin

import (
	"context"

	"jax-marketdata-core/internal/bars"
)

// Feature names used as keys in a capability map (spec.md §3, "Plugin
// capability map"). Higher layers (DataSource, BackfillManager) branch on
// these rather than on a provider's concrete type.
const (
	FeatureFetchHistoricalOHLCV = "fetch_historical_ohlcv"
	FeatureGetMarketInfo        = "get_market_info"
	FeatureValidateSymbol       = "validate_symbol"
	FeatureStreamTrades         = "stream_trades"
	FeatureStreamQuotes         = "stream_quotes"
	FeatureTradingAPI           = "trading_api"
)

// Capabilities is the per-plugin-instance feature flag map described in
// spec.md §3.
type Capabilities map[string]bool

// Plugin is the normalized provider adapter contract of spec.md §4.1. Every
// concrete provider implementation (polygonplugin, alpacaplugin, ...)
// satisfies this interface so the rest of the pipeline never depends on a
// specific provider's wire format.
type Plugin interface {
	// Key identifies the plugin instance's provider, e.g. "polygon".
	Key() string

	// GetSymbols lists active tradable symbols for market. May be served
	// from an internal TTL cache.
	GetSymbols(ctx context.Context, market string) ([]string, error)

	// FetchHistoricalOHLCV returns bars sorted oldest-first, honoring
	// since/until/limit as upper bounds (fewer bars may come back). since
	// and until are nil-able; nil since means "as far back as available",
	// nil until means "up to now".
	FetchHistoricalOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe, since, until *int64, limit int) ([]bars.Bar, error)

	// FetchLatestOHLCV returns the most recent completed bar, or nil if
	// none is available yet.
	FetchLatestOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe) (*bars.Bar, error)

	// GetMarketInfo returns provider-specific metadata for symbol. The
	// reference plugins report an unknown symbol, or a provider without a
	// metadata endpoint, as an error rather than a nil map.
	GetMarketInfo(ctx context.Context, symbol string) (map[string]any, error)

	// ValidateSymbol reports whether symbol is tradable on this provider.
	ValidateSymbol(ctx context.Context, symbol string) (bool, error)

	// GetSupportedTimeframes lists the timeframe strings this plugin can
	// fetch natively, without upstream resampling.
	GetSupportedTimeframes() []string

	// GetMaxFetchLimit returns the largest number of bars a single
	// FetchHistoricalOHLCV call may request for timeframe.
	GetMaxFetchLimit(timeframe bars.Timeframe) int

	// SupportedFeatures returns this instance's capability map.
	SupportedFeatures() Capabilities

	// Close releases network resources. Idempotent.
	Close() error
}

// HistoricalAvailabilityChecker is an optional interface a Plugin may
// additionally implement to let PluginSource decide, before fetching,
// whether enough native history exists for timeframe or whether it should
// degrade straight to 1m+resample. Matches spec.md §4.6's "Optionally call
// GetHistoricalDataAvailability" and the Python original's duck-typed
// optionality (spec.md SUPPLEMENTED FEATURES).
type HistoricalAvailabilityChecker interface {
	// GetHistoricalDataAvailability returns the earliest timestamp (ms)
	// for which timeframe data is available, or nil if unknown.
	GetHistoricalDataAvailability(ctx context.Context, symbol string, timeframe bars.Timeframe) (*int64, error)
}

// SupportsNative reports whether caps declares feature (one of the
// capability names) as supported; a name absent from caps reads as false.
func (c Capabilities) SupportsNative(feature string) bool {
	return c[feature]
}
