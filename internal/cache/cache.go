// Package cache implements the two-tier bar cache described in spec.md
// §4.3: a 1-minute bar group per asset, and pre-resampled results per
// (asset, timeframe). It is backed by Redis (github.com/redis/go-redis/v9),
// following the donor's libs/marketdata/cache.go, generalized from a single
// quote/candle cache into the market-data core's asset-key cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/obslog"
)

// Config configures the Redis-backed cache.
type Config struct {
	RedisURL string
	// TTL1mGroup is the TTL for 1m bar groups (spec default: 1 hour).
	TTL1mGroup time.Duration
	// TTLResampled is the TTL for pre-resampled results (spec default: 5
	// minutes).
	TTLResampled time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL1mGroup:   time.Hour,
		TTLResampled: 5 * time.Minute,
	}
}

// Cache is the Redis-backed implementation of the two-tier bar cache.
// All operations are best-effort: failures are logged and reported as a
// miss, never returned as a user-facing error, per spec.md §4.3.
type Cache struct {
	client *redis.Client
	cfg    Config
}

// New connects to Redis and verifies reachability with a bounded ping.
func New(cfg Config) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}

	return &Cache{client: client, cfg: cfg}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

func oneMinKey(a bars.Asset) string {
	return fmt.Sprintf("ohlcv:1m:%s:%s:%s", a.Market, a.Provider, a.Symbol)
}

func resampledKey(k bars.AssetKey) string {
	return fmt.Sprintf("ohlcv:resampled:%s:%s:%s:%s", k.Market, k.Provider, k.Symbol, k.Timeframe)
}

// Get1m returns the cached 1m bar group for asset, filtered to
// (since, before, limit) per the shared limit semantics (last-N if since is
// nil, else first-N from since). ok is false on cache miss or any failure.
func (c *Cache) Get1m(ctx context.Context, asset bars.Asset, since, before *int64, limit int) (result []bars.Bar, ok bool) {
	raw, err := c.client.Get(ctx, oneMinKey(asset)).Bytes()
	if err != nil {
		if err != redis.Nil {
			obslog.LogEvent(ctx, "warn", "cache_get_1m_failed", map[string]any{"error": err, "asset": asset.String()})
		}
		return nil, false
	}
	all, err := deserializeBars(raw)
	if err != nil {
		obslog.LogEvent(ctx, "warn", "cache_deserialize_failed", map[string]any{"error": err, "asset": asset.String()})
		return nil, false
	}
	return filterBars(all, since, before, limit), true
}

// Store1m overwrites the 1m bar group for asset. Best-effort; errors are
// logged, never returned to the caller's data path.
func (c *Cache) Store1m(ctx context.Context, asset bars.Asset, group []bars.Bar) {
	raw, err := serializeBars(group)
	if err != nil {
		obslog.LogEvent(ctx, "warn", "cache_serialize_failed", map[string]any{"error": err, "asset": asset.String()})
		return
	}
	if err := c.client.Set(ctx, oneMinKey(asset), raw, c.cfg.TTL1mGroup).Err(); err != nil {
		obslog.LogEvent(ctx, "warn", "cache_store_1m_failed", map[string]any{"error": err, "asset": asset.String()})
	}
}

// GetResampled returns the cached resampled result for key. ok is false on
// miss or failure.
func (c *Cache) GetResampled(ctx context.Context, key bars.AssetKey) (result []bars.Bar, ok bool) {
	raw, err := c.client.Get(ctx, resampledKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			obslog.LogEvent(ctx, "warn", "cache_get_resampled_failed", map[string]any{"error": err, "asset_key": key.String()})
		}
		return nil, false
	}
	all, err := deserializeBars(raw)
	if err != nil {
		return nil, false
	}
	return all, true
}

// SetResampled stores a resampled result for key with the configured TTL.
// Best-effort, called fire-and-forget by callers per spec.md §4.5.
func (c *Cache) SetResampled(ctx context.Context, key bars.AssetKey, result []bars.Bar) {
	raw, err := serializeBars(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, resampledKey(key), raw, c.cfg.TTLResampled).Err(); err != nil {
		obslog.LogEvent(ctx, "warn", "cache_set_resampled_failed", map[string]any{"error": err, "asset_key": key.String()})
	}
}

// filterBars applies the shared limit semantics: keep the last `limit` bars
// when since is nil (newest end), otherwise keep the first `limit` bars
// with timestamp >= since. before, if set, excludes bars with
// timestamp >= before.
func filterBars(in []bars.Bar, since, before *int64, limit int) []bars.Bar {
	out := make([]bars.Bar, 0, len(in))
	for _, b := range in {
		if since != nil && b.Timestamp < *since {
			continue
		}
		if before != nil && b.Timestamp >= *before {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit <= 0 || len(out) <= limit {
		return out
	}
	if since == nil {
		return out[len(out)-limit:]
	}
	return out[:limit]
}

// wireBar is the JSON-on-the-wire shape for a cached bar: NaN/+-Inf/missing
// numerics coerce to 0.0, timestamp is always an integer, per spec.md §4.3.
type wireBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func serializeBars(in []bars.Bar) ([]byte, error) {
	wire := make([]wireBar, len(in))
	for i, b := range in {
		wire[i] = wireBar{
			Timestamp: b.Timestamp,
			Open:      coerce(b.Open),
			High:      coerce(b.High),
			Low:       coerce(b.Low),
			Close:     coerce(b.Close),
			Volume:    coerce(b.Volume),
		}
	}
	return json.Marshal(wire)
}

func deserializeBars(raw []byte) ([]bars.Bar, error) {
	var wire []wireBar
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]bars.Bar, len(wire))
	for i, w := range wire {
		out[i] = bars.Bar{
			Timestamp: w.Timestamp,
			Open:      w.Open,
			High:      w.High,
			Low:       w.Low,
			Close:     w.Close,
			Volume:    w.Volume,
		}
	}
	return out, nil
}

func coerce(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}
