// Package alpacaplugin adapts Alpaca's market-data client
// (github.com/alpacahq/alpaca-trade-api-go/v3) to the internal/plugin.Plugin
// contract, generalized from the donor's libs/marketdata/provider_alpaca.go
// (same client, donor's own Quote/Candle Provider interface rather than
// spec.md's AssetKey/Bar model). Keeps the donor's circuit-breaker-around-
// every-call pattern.
package alpacaplugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/plugin"
	"jax-marketdata-core/internal/resilience"
)

// Plugin implements internal/plugin.Plugin against Alpaca market data.
type Plugin struct {
	client *marketdata.Client
	cb     *resilience.CircuitBreaker
	retry  plugin.RetryConfig

	marketInfoCache *plugin.TTLCache[map[string]map[string]any]
}

var capabilities = plugin.Capabilities{
	plugin.FeatureFetchHistoricalOHLCV: true,
	plugin.FeatureValidateSymbol:       true,
}

var nativeTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "1d": true, "1w": true,
}

// New constructs an Alpaca plugin instance from cfg.
func New(cfg plugin.Config) (plugin.Plugin, error) {
	baseURL := "https://data.alpaca.markets"
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   baseURL,
	})
	cbCfg := resilience.DefaultConfig("alpaca-plugin")
	return &Plugin{
		client:          client,
		cb:              resilience.NewCircuitBreaker(cbCfg),
		retry:           plugin.DefaultRetryConfig(),
		marketInfoCache: plugin.NewTTLCache[map[string]map[string]any](),
	}, nil
}

func (p *Plugin) Key() string { return "alpaca" }

func (p *Plugin) SupportedFeatures() plugin.Capabilities { return capabilities }

func (p *Plugin) GetSupportedTimeframes() []string {
	out := make([]string, 0, len(nativeTimeframes))
	for tf := range nativeTimeframes {
		out = append(out, tf)
	}
	return out
}

func (p *Plugin) GetMaxFetchLimit(_ bars.Timeframe) int { return 10000 }

func (p *Plugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	return nil, fmt.Errorf("%w: alpaca plugin does not expose a bulk symbol listing", plugin.ErrFeatureNotSupported)
}

func (p *Plugin) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	bar, err := p.FetchLatestOHLCV(ctx, symbol, bars.OneMinute)
	if err != nil {
		if errors.Is(err, plugin.ErrNetwork) {
			return false, err
		}
		return false, nil
	}
	return bar != nil, nil
}

func (p *Plugin) GetMarketInfo(ctx context.Context, symbol string) (map[string]any, error) {
	if cached, ok := p.marketInfoCache.Get(); ok {
		if info, ok := cached[symbol]; ok {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: alpaca market-data API has no symbol-metadata endpoint wired", plugin.ErrFeatureNotSupported)
}

// FetchHistoricalOHLCV fetches bars oldest-first from Alpaca, degrading
// rejection (not silent fallback — PluginSource decides degradation) when
// timeframe has no native Alpaca mapping.
func (p *Plugin) FetchHistoricalOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe, since, until *int64, limit int) ([]bars.Bar, error) {
	tf, err := toAlpacaTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}

	end := time.Now()
	if until != nil {
		end = time.UnixMilli(*until)
	}
	start := end.Add(-time.Duration(limit) * time.Duration(timeframe.PeriodMs) * time.Millisecond)
	if since != nil {
		start = time.UnixMilli(*since)
	}

	out, err := plugin.WithRetry(ctx, p.retry, func(ctx context.Context) ([]bars.Bar, error) {
		return p.cbGetBars(ctx, symbol, tf, start, end, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: alpaca fetch historical: %w", plugin.ErrPlugin, err)
	}
	return out, nil
}

func (p *Plugin) cbGetBars(ctx context.Context, symbol string, tf marketdata.TimeFrame, start, end time.Time, limit int) ([]bars.Bar, error) {
	res, err := p.cb.ExecuteWithContext(ctx, func() (any, error) {
		raw, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  tf,
			Start:      start,
			End:        end,
			TotalLimit: limit,
		})
		if err != nil {
			return nil, classifyError(err)
		}
		out := make([]bars.Bar, 0, len(raw))
		for _, b := range raw {
			out = append(out, bars.Bar{
				Timestamp: b.Timestamp.UnixMilli(),
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]bars.Bar), nil
}

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

func toAlpacaTimeFrame(tf bars.Timeframe) (marketdata.TimeFrame, error) {
	switch tf.Unit {
	case "m":
		return marketdata.NewTimeFrame(tf.Count, marketdata.Min), nil
	case "h":
		return marketdata.NewTimeFrame(tf.Count, marketdata.Hour), nil
	case "d":
		return marketdata.NewTimeFrame(tf.Count, marketdata.Day), nil
	case "w":
		return marketdata.NewTimeFrame(tf.Count, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("%w: unit %q has no alpaca timeframe mapping", plugin.ErrFeatureNotSupported, tf.Unit)
	}
}

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
