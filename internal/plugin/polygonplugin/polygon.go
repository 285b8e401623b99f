// Package polygonplugin adapts Polygon.io's REST client
// (github.com/polygon-io/client-go) to the internal/plugin.Plugin contract,
// generalized from the donor's libs/marketdata/provider_polygon.go (which
// adapted the same client to the donor's own Provider interface for
// Quote/Candle types rather than spec.md's AssetKey/Bar model).
package polygonplugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/plugin"
	"jax-marketdata-core/internal/resilience"
)

// Plugin implements internal/plugin.Plugin against Polygon.io.
type Plugin struct {
	client *polygon.Client
	cb     *resilience.CircuitBreaker
	retry  plugin.RetryConfig

	symbolsCache *plugin.TTLCache[[]string]
}

var capabilities = plugin.Capabilities{
	plugin.FeatureFetchHistoricalOHLCV: true,
	plugin.FeatureGetMarketInfo:        true,
	plugin.FeatureValidateSymbol:       true,
}

// nativeTimeframes are the timespans Polygon serves directly; anything
// outside this set must degrade to 1m and be resampled upstream.
var nativeTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "1d": true, "1w": true,
}

// New constructs a Polygon plugin instance from cfg. Matches the
// registry.Constructor signature so it can be registered with
// internal/plugin.Registry.
func New(cfg plugin.Config) (plugin.Plugin, error) {
	client := polygon.New(cfg.APIKey)
	cbCfg := resilience.DefaultConfig("polygon-plugin")
	return &Plugin{
		client:       client,
		cb:           resilience.NewCircuitBreaker(cbCfg),
		retry:        plugin.DefaultRetryConfig(),
		symbolsCache: plugin.NewTTLCache[[]string](),
	}, nil
}

func (p *Plugin) Key() string { return "polygon" }

func (p *Plugin) SupportedFeatures() plugin.Capabilities { return capabilities }

func (p *Plugin) GetSupportedTimeframes() []string {
	out := make([]string, 0, len(nativeTimeframes))
	for tf := range nativeTimeframes {
		out = append(out, tf)
	}
	return out
}

func (p *Plugin) GetMaxFetchLimit(_ bars.Timeframe) int { return 50000 }

// GetSymbols is not natively exposed as a cheap bulk call in this plugin;
// callers needing a symbol universe should use ValidateSymbol per-symbol.
// It makes no API call: it returns the instance's TTL symbol cache when
// that holds a value, and ErrFeatureNotSupported otherwise. Nothing in
// this plugin fills that cache.
func (p *Plugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	if cached, ok := p.symbolsCache.Get(); ok {
		return cached, nil
	}
	return nil, fmt.Errorf("%w: polygon plugin does not expose a bulk symbol listing", plugin.ErrFeatureNotSupported)
}

func (p *Plugin) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	_, err := p.GetMarketInfo(ctx, symbol)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Plugin) GetMarketInfo(ctx context.Context, symbol string) (map[string]any, error) {
	result, err := plugin.WithRetry(ctx, p.retry, func(ctx context.Context) (map[string]any, error) {
		return p.cbGetTickerDetails(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Plugin) cbGetTickerDetails(ctx context.Context, symbol string) (map[string]any, error) {
	res, err := p.cb.ExecuteWithContext(ctx, func() (any, error) {
		params := &models.GetTickerDetailsParams{Ticker: symbol}
		resp, err := p.client.GetTickerDetails(ctx, params)
		if err != nil {
			return nil, classifyError(err)
		}
		return map[string]any{
			"name":        resp.Results.Name,
			"market":      string(resp.Results.Market),
			"ticker":      resp.Results.Ticker,
			"active":      resp.Results.Active,
			"currency":    resp.Results.CurrencyName,
			"description": resp.Results.Description,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

// FetchHistoricalOHLCV fetches bars oldest-first, respecting since/until as
// the provider's native timespan/multiplier when timeframe is natively
// supported; callers should have already decided to degrade to 1m for
// unsupported timeframes (PluginSource does this per spec.md §4.6).
func (p *Plugin) FetchHistoricalOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe, since, until *int64, limit int) ([]bars.Bar, error) {
	if !nativeTimeframes[timeframe.Raw] {
		return nil, fmt.Errorf("%w: polygon has no native %q timespan", plugin.ErrFeatureNotSupported, timeframe.Raw)
	}

	multiplier, timespan, err := toPolygonSpan(timeframe)
	if err != nil {
		return nil, err
	}

	to := time.Now()
	if until != nil {
		to = time.UnixMilli(*until)
	}
	from := to.Add(-time.Duration(limit) * time.Duration(timeframe.PeriodMs) * time.Millisecond)
	if since != nil {
		from = time.UnixMilli(*since)
	}

	out, err := plugin.WithRetry(ctx, p.retry, func(ctx context.Context) ([]bars.Bar, error) {
		return p.cbListAggs(ctx, symbol, multiplier, timespan, from, to, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: polygon fetch historical: %w", plugin.ErrPlugin, err)
	}
	return out, nil
}

func (p *Plugin) cbListAggs(ctx context.Context, symbol string, multiplier int, timespan models.Timespan, from, to time.Time, limit int) ([]bars.Bar, error) {
	res, err := p.cb.ExecuteWithContext(ctx, func() (any, error) {
		params := models.ListAggsParams{
			Ticker:     symbol,
			Multiplier: multiplier,
			Timespan:   timespan,
			From:       models.Millis(from),
			To:         models.Millis(to),
		}.WithLimit(limit)

		iter := p.client.ListAggs(ctx, params)
		out := make([]bars.Bar, 0, limit)
		for iter.Next() {
			agg := iter.Item()
			out = append(out, bars.Bar{
				Timestamp: time.Time(agg.Timestamp).UnixMilli(),
				Open:      agg.Open,
				High:      agg.High,
				Low:       agg.Low,
				Close:     agg.Close,
				Volume:    agg.Volume,
			})
		}
		if iter.Err() != nil {
			return nil, classifyError(iter.Err())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]bars.Bar), nil
}

// FetchLatestOHLCV returns the most recent completed bar for symbol/timeframe.
func (p *Plugin) FetchLatestOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe) (*bars.Bar, error) {
	now := time.Now().UnixMilli()
	out, err := p.FetchHistoricalOHLCV(ctx, symbol, timeframe, nil, &now, 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	return &last, nil
}

func (p *Plugin) Close() error { return nil }

func toPolygonSpan(tf bars.Timeframe) (int, models.Timespan, error) {
	switch tf.Unit {
	case "m":
		return tf.Count, models.Minute, nil
	case "h":
		return tf.Count, models.Hour, nil
	case "d":
		return tf.Count, models.Day, nil
	case "w":
		return tf.Count, models.Week, nil
	default:
		return 0, "", fmt.Errorf("%w: unit %q has no polygon timespan mapping", plugin.ErrFeatureNotSupported, tf.Unit)
	}
}

// classifyError maps a raw client-go error to the shared error taxonomy.
// Polygon's REST client does not expose a typed rate-limit/auth error, so
// this is a best-effort string classification, matching the donor's own
// string-wrapped ErrProviderError pattern in provider_polygon.go.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", plugin.ErrAuth, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return fmt.Errorf("%w: %v", plugin.ErrNetwork, err)
	default:
		return fmt.Errorf("%w: %v", plugin.ErrPlugin, err)
	}
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
