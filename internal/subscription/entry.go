package subscription

import (
	"context"
	"sync"
	"time"

	"jax-marketdata-core/internal/bars"
)

// entry is the per-AssetKey subscription state of spec.md §3 ("Subscription
// entry... created on first subscriber, destroyed when the set empties").
type entry struct {
	key bars.AssetKey
	tf  bars.Timeframe

	mu          sync.Mutex
	subscribers map[string]Subscriber
	lastSentTS  int64
	failures    int
	cooldown    time.Time

	queue  chan queueMsg
	cancel context.CancelFunc
}

func newEntry(key bars.AssetKey, tf bars.Timeframe, queueSize int) *entry {
	return &entry{
		key:         key,
		tf:          tf,
		subscribers: make(map[string]Subscriber),
		queue:       make(chan queueMsg, queueSize),
	}
}

// addSubscriber attaches sub to the entry.
func (e *entry) addSubscriber(sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers[sub.ID()] = sub
}

// removeSubscriber detaches a subscriber by ID and reports whether the
// entry's subscriber set is now empty (the caller tears the entry down in
// that case).
func (e *entry) removeSubscriber(id string) (empty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
	return len(e.subscribers) == 0
}

// snapshotSubscribers returns a point-in-time copy of the subscriber set for
// the broadcaster to iterate without holding the entry lock during sends.
func (e *entry) snapshotSubscribers() []Subscriber {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		out = append(out, s)
	}
	return out
}

func (e *entry) setLastSentTS(ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts > e.lastSentTS {
		e.lastSentTS = ts
	}
}

func (e *entry) getLastSentTS() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSentTS
}

// inCooldown reports whether the entry is presently within a backoff
// cooldown window, and the remaining duration if so.
func (e *entry) inCooldown(now time.Time) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cooldown.IsZero() || !now.Before(e.cooldown) {
		return 0, false
	}
	return e.cooldown.Sub(now), true
}

func (e *entry) onPollSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.cooldown = time.Time{}
}

func (e *entry) onPollFailure(now time.Time, cfg Config) (backedOff bool, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures < cfg.MaxPollFailuresBeforeBackoff {
		return false, 0
	}
	shift := e.failures - cfg.MaxPollFailuresBeforeBackoff
	delay = cfg.PollBackoffBase * time.Duration(1<<uint(minInt(shift, 10)))
	if delay > cfg.MaxPollBackoff {
		delay = cfg.MaxPollBackoff
	}
	e.cooldown = now.Add(delay)
	e.failures = 0
	return true, delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
