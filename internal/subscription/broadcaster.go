package subscription

import (
	"context"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/metrics"
	"jax-marketdata-core/internal/obslog"
)

// runBroadcaster is the per-entry broadcaster task of spec.md §4.9: drains
// bar batches pushed by the poll task and fans each out to every attached
// subscriber, dropping any subscriber whose Send fails or exceeds
// sendTimeout (spec.md §5 Backpressure: "a slow subscriber never blocks
// delivery to the rest"). onEmpty is invoked once the subscriber set drains
// to zero so the caller can tear the entry down.
func runBroadcaster(ctx context.Context, e *entry, m *metrics.MarketDataMetrics, onEmpty func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.queue:
			if !ok {
				return
			}
			broadcast(ctx, e, msg, m, onEmpty)
		}
	}
}

func broadcast(ctx context.Context, e *entry, msg queueMsg, m *metrics.MarketDataMetrics, onEmpty func()) {
	frame := dataOrNoticeFrame(e, msg)

	for _, sub := range e.snapshotSubscribers() {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sub.Send(sendCtx, frame)
		cancel()
		if err != nil {
			obslog.LogEvent(ctx, "warn", "subscription_send_failed", map[string]any{"error": err, "subscriber": sub.ID(), "symbol": e.key.Symbol})
			if m != nil {
				m.BroadcastDropped.Inc("reason", "send_error")
			}
			if empty := e.removeSubscriber(sub.ID()); empty && onEmpty != nil {
				onEmpty()
			}
		}
	}
}

// dataOrNoticeFrame converts a queueMsg into the wire frame the poll task
// intended: a data frame for a fresh bar batch, or a notice frame for a
// poll-backoff warning (spec.md §4.9: "enqueue a notice frame").
func dataOrNoticeFrame(e *entry, msg queueMsg) Frame {
	if msg.notice != "" {
		return Frame{
			Type:      FrameNotice,
			Symbol:    e.key.Symbol,
			Timeframe: e.key.Timeframe,
			Payload:   MessagePayload{Message: msg.notice},
		}
	}
	return Frame{
		Type:      FrameData,
		Symbol:    e.key.Symbol,
		Timeframe: e.key.Timeframe,
		Payload:   toDataPayload(msg.bars, false),
	}
}

func toDataPayload(group []bars.Bar, initial bool) DataPayload {
	ohlc := make([][5]float64, 0, len(group))
	volume := make([][2]float64, 0, len(group))
	for _, b := range group {
		ts := float64(b.Timestamp)
		ohlc = append(ohlc, [5]float64{ts, b.Open, b.High, b.Low, b.Close})
		volume = append(volume, [2]float64{ts, b.Volume})
	}
	return DataPayload{OHLC: ohlc, Volume: volume, InitialBatch: initial}
}
