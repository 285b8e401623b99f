package subscription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jax-marketdata-core/internal/bars"
)

type fakeFetcher struct {
	mu    sync.Mutex
	bars  []bars.Bar
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, asset bars.Asset, tf bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]bars.Bar, 0, len(f.bars))
	for _, b := range f.bars {
		if since != nil && b.Timestamp <= *since {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeFetcher) setBars(group []bars.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars = group
}

type noopBackfill struct{ triggered chan bars.Asset }

func (b *noopBackfill) MaybeTrigger(ctx context.Context, asset bars.Asset) {
	if b.triggered != nil {
		select {
		case b.triggered <- asset:
		default:
		}
	}
}

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames []Frame
}

func (s *fakeSubscriber) ID() string { return s.id }
func (s *fakeSubscriber) Send(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}
func (s *fakeSubscriber) snapshot() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

type erroringFetcher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *erroringFetcher) Fetch(ctx context.Context, asset bars.Asset, tf bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialPollDelay = time.Millisecond
	cfg.MinPollInterval = 5 * time.Millisecond
	cfg.MaxPollInterval = 10 * time.Millisecond
	cfg.PollJitterFactor = 0
	return cfg
}

func TestManager_SubscribeSendsAckThenInitialBatch(t *testing.T) {
	fetcher := &fakeFetcher{bars: []bars.Bar{{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}}
	m := New(fastConfig(), fetcher, &noopBackfill{}, nil, nil)
	defer m.Shutdown()

	sub := &fakeSubscriber{id: "s1"}
	if err := m.Subscribe(context.Background(), "crypto", "fake", "BTC", "1m", nil, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := sub.snapshot()
	if len(frames) < 2 {
		t.Fatalf("expected at least ack+data frames, got %d", len(frames))
	}
	if frames[0].Type != FrameSubscribed {
		t.Fatalf("first frame should be subscribed ack, got %v", frames[0].Type)
	}
	if frames[1].Type != FrameData {
		t.Fatalf("second frame should be initial data batch, got %v", frames[1].Type)
	}
	payload, ok := frames[1].Payload.(DataPayload)
	if !ok || !payload.InitialBatch {
		t.Fatalf("expected initial_batch=true data payload, got %+v", frames[1].Payload)
	}
}

func TestManager_InvalidTimeframeSendsErrorAndReturnsErr(t *testing.T) {
	m := New(fastConfig(), &fakeFetcher{}, &noopBackfill{}, nil, nil)
	defer m.Shutdown()

	sub := &fakeSubscriber{id: "s1"}
	err := m.Subscribe(context.Background(), "crypto", "fake", "BTC", "bogus", nil, sub)
	if err == nil {
		t.Fatalf("expected error for invalid timeframe")
	}
	frames := sub.snapshot()
	if len(frames) != 1 || frames[0].Type != FrameError {
		t.Fatalf("expected single error frame, got %+v", frames)
	}
}

func TestManager_PollBroadcastsNewBarsToSubscribers(t *testing.T) {
	fetcher := &fakeFetcher{bars: []bars.Bar{{Timestamp: 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}}
	m := New(fastConfig(), fetcher, &noopBackfill{}, nil, nil)
	defer m.Shutdown()

	sub := &fakeSubscriber{id: "s1"}
	if err := m.Subscribe(context.Background(), "crypto", "fake", "BTC", "1m", nil, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.setBars([]bars.Bar{
		{Timestamp: 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Timestamp: 120000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := sub.snapshot()
		for _, f := range frames {
			if f.Type == FrameData {
				if payload, ok := f.Payload.(DataPayload); ok && !payload.InitialBatch {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a non-initial data frame to be broadcast from polling")
}

func TestManager_PollBackoffEnqueuesNoticeFrame(t *testing.T) {
	fetcher := &erroringFetcher{err: errors.New("upstream unavailable")}
	cfg := fastConfig()
	cfg.MaxPollFailuresBeforeBackoff = 1
	cfg.PollBackoffBase = 5 * time.Millisecond
	cfg.MaxPollBackoff = 20 * time.Millisecond
	m := New(cfg, fetcher, &noopBackfill{}, nil, nil)
	defer m.Shutdown()

	sub := &fakeSubscriber{id: "s1"}
	if err := m.Subscribe(context.Background(), "crypto", "fake", "BTC", "1m", nil, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range sub.snapshot() {
			// The initial-fetch failure also sends a notice; only the poll
			// backoff notice counts here.
			if p, ok := f.Payload.(MessagePayload); ok && f.Type == FrameNotice && strings.HasPrefix(p.Message, "polling paused") {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a notice frame to be broadcast after repeated poll failures")
}

func TestManager_UnsubscribeRemovesEntry(t *testing.T) {
	fetcher := &fakeFetcher{}
	m := New(fastConfig(), fetcher, &noopBackfill{}, nil, nil)
	defer m.Shutdown()

	sub := &fakeSubscriber{id: "s1"}
	if err := m.Subscribe(context.Background(), "crypto", "fake", "BTC", "1m", nil, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := bars.AssetKey{Market: "crypto", Provider: "fake", Symbol: "BTC", Timeframe: "1m"}

	m.Unsubscribe(key, "s1")

	m.mu.Lock()
	_, exists := m.entries[key]
	m.mu.Unlock()
	if exists {
		t.Fatalf("expected entry to be removed after last subscriber unsubscribes")
	}
}
