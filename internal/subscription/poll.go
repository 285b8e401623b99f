package subscription

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/obslog"
)

// Fetcher is the subset of *internal/orchestrator.Orchestrator the poll task
// needs.
type Fetcher interface {
	Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error)
}

// PollPersister lets the poll task persist freshly observed 1m bars the same
// way the Backfill Manager does, so a live-streamed symbol's 1m history
// lands in cache and storage without waiting on the next backfill pass.
type PollPersister interface {
	UpsertBars(ctx context.Context, key bars.AssetKey, group []bars.Bar) error
	Store1m(ctx context.Context, asset bars.Asset, group []bars.Bar)
}

// pollInterval computes the clamped, jittered poll period for a timeframe
// per spec.md §4.9: base = periodMs/10, clamped to [min,max], plus symmetric
// jitter to avoid synchronized polling across many entries.
func pollInterval(tf bars.Timeframe, cfg Config) time.Duration {
	base := time.Duration(tf.PeriodMs/10) * time.Millisecond
	if base < cfg.MinPollInterval {
		base = cfg.MinPollInterval
	}
	if base > cfg.MaxPollInterval {
		base = cfg.MaxPollInterval
	}
	if cfg.PollJitterFactor <= 0 {
		return base
	}
	jitter := float64(base) * cfg.PollJitterFactor * (rand.Float64()*2 - 1)
	d := time.Duration(float64(base) + jitter)
	if d < 0 {
		d = base
	}
	return d
}

// runPoll is the per-entry poll task of spec.md §4.9: periodically fetches
// bars since lastSentTS through the Orchestrator, and pushes newly observed
// bars onto the entry's queue for the broadcaster to fan out. It exits when
// ctx is cancelled (entry torn down).
func runPoll(ctx context.Context, e *entry, asset bars.Asset, fetcher Fetcher, persist PollPersister, m *metrics.MarketDataMetrics, cfg Config) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(cfg.InitialPollDelay):
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now()
		if remaining, cooling := e.inCooldown(now); cooling {
			select {
			case <-ctx.Done():
				return
			case <-time.After(remaining):
			}
			continue
		}

		since := e.getLastSentTS()
		fetched, err := fetcher.Fetch(ctx, asset, e.tf, &since, nil, cfg.PollFetchLimit)
		if err != nil {
			backedOff, delay := e.onPollFailure(now, cfg)
			if m != nil {
				m.PollFailures.Inc("asset", asset.String(), "timeframe", e.tf.Raw)
			}
			obslog.LogEvent(ctx, "warn", "subscription_poll_failed", map[string]any{
				"error": err, "asset": asset.String(), "timeframe": e.tf.Raw, "backoff": backedOff,
			})
			if backedOff {
				notice := queueMsg{notice: fmt.Sprintf("polling paused after repeated failures; retrying in %s", delay)}
				select {
				case e.queue <- notice:
				case <-ctx.Done():
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
		} else {
			e.onPollSuccess()
			fresh := newerThan(fetched, since)
			if len(fresh) > 0 {
				if e.tf.Raw == bars.OneMinute.Raw && persist != nil {
					key := bars.AssetKey{Market: asset.Market, Provider: asset.Provider, Symbol: asset.Symbol, Timeframe: e.tf.Raw}
					if err := persist.UpsertBars(ctx, key, fresh); err != nil {
						obslog.LogEvent(ctx, "warn", "subscription_poll_persist_failed", map[string]any{"error": err, "asset": asset.String()})
					} else {
						persist.Store1m(ctx, asset, fresh)
					}
				}
				e.setLastSentTS(latestTimestamp(fresh))
				select {
				case e.queue <- queueMsg{bars: fresh}:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval(e.tf, cfg)):
		}
	}
}

func newerThan(group []bars.Bar, since int64) []bars.Bar {
	out := make([]bars.Bar, 0, len(group))
	for _, b := range group {
		if b.Timestamp > since {
			out = append(out, b)
		}
	}
	return out
}

func latestTimestamp(group []bars.Bar) int64 {
	max := group[0].Timestamp
	for _, b := range group[1:] {
		if b.Timestamp > max {
			max = b.Timestamp
		}
	}
	return max
}
