package orchestrator

import (
	"context"
	"testing"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/datasource"
)

type fakeSource struct {
	name     string
	supports bool
	bars     []bars.Bar
	err      error
}

func (f *fakeSource) Name() string                        { return f.name }
func (f *fakeSource) Supports(bars.Timeframe) bool         { return f.supports }
func (f *fakeSource) Fetch(ctx context.Context, asset bars.Asset, tf bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func bar(ts int64) bars.Bar {
	return bars.Bar{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
}

func TestOrchestrator_LimitTrimmingPrefersEarlierSource(t *testing.T) {
	// Scenario 2 from spec.md §8: cache {1..5}, plugin {4..7}, limit=3 ->
	// result {5,6,7}, with cache's copies of 4,5 preferred over plugin's.
	cacheSrc := &fakeSource{name: "cache", supports: true, bars: []bars.Bar{bar(1), bar(2), bar(3), bar(4), bar(5)}}
	pluginSrc := &fakeSource{name: "plugin", supports: true, bars: []bars.Bar{bar(4), bar(5), bar(6), bar(7)}}

	o := New([]datasource.Source{cacheSrc, pluginSrc}, nil)
	asset := bars.Asset{Market: "crypto", Provider: "x", Symbol: "BTC"}
	out, err := o.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{5, 6, 7}
	if len(out) != len(want) {
		t.Fatalf("got %d bars, want %d", len(out), len(want))
	}
	for i, ts := range want {
		if out[i].Timestamp != ts {
			t.Fatalf("bar %d: got ts %d, want %d", i, out[i].Timestamp, ts)
		}
	}
}

func TestOrchestrator_SkipsFailingSource(t *testing.T) {
	failing := &fakeSource{name: "aggregate_view", supports: true, err: context.DeadlineExceeded}
	ok := &fakeSource{name: "cache", supports: true, bars: []bars.Bar{bar(1), bar(2)}}

	o := New([]datasource.Source{failing, ok}, nil)
	asset := bars.Asset{Market: "crypto", Provider: "x", Symbol: "BTC"}
	out, err := o.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 10)
	if err != nil {
		t.Fatalf("orchestrator must not fail the request when a source returned data: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2", len(out))
	}
}

func TestOrchestrator_NoSourcesReturnsEmptyNotError(t *testing.T) {
	empty := &fakeSource{name: "cache", supports: true}
	o := New([]datasource.Source{empty}, nil)
	asset := bars.Asset{Market: "crypto", Provider: "x", Symbol: "BTC"}
	out, err := o.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d bars", len(out))
	}
}

func TestOrchestrator_SkipsUnsupportedSources(t *testing.T) {
	unsupported := &fakeSource{name: "aggregate_view", supports: false, bars: []bars.Bar{bar(100)}}
	supported := &fakeSource{name: "cache", supports: true, bars: []bars.Bar{bar(1)}}
	o := New([]datasource.Source{unsupported, supported}, nil)
	asset := bars.Asset{Market: "crypto", Provider: "x", Symbol: "BTC"}
	out, err := o.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Timestamp != 1 {
		t.Fatalf("expected only the supported source's bar, got %+v", out)
	}
}

func TestOrchestrator_SinceBoundsResults(t *testing.T) {
	src := &fakeSource{name: "cache", supports: true, bars: []bars.Bar{bar(1), bar(2), bar(3), bar(4)}}
	o := New([]datasource.Source{src}, nil)
	since := int64(3)
	asset := bars.Asset{Market: "crypto", Provider: "x", Symbol: "BTC"}
	out, err := o.Fetch(context.Background(), asset, bars.OneMinute, &since, nil, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, b := range out {
		if b.Timestamp < since {
			t.Fatalf("bar %d below since %d", b.Timestamp, since)
		}
	}
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2", len(out))
	}
}
