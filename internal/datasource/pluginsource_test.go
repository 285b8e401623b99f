package datasource

import (
	"context"
	"testing"
	"time"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/plugin"
)

type fakePlugin struct {
	key            string
	features       plugin.Capabilities
	nativeTFs      []string
	maxFetchLimit  int
	validSymbols   map[string]bool
	historicalBars []bars.Bar
	chunkLimit     int // limits the size of a single returned chunk to exercise paging
}

func (f *fakePlugin) Key() string { return f.key }

func (f *fakePlugin) GetSymbols(ctx context.Context, market string) ([]string, error) { return nil, nil }

func (f *fakePlugin) FetchHistoricalOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe, since, until *int64, limit int) ([]bars.Bar, error) {
	var out []bars.Bar
	for _, b := range f.historicalBars {
		if since != nil && b.Timestamp < *since {
			continue
		}
		if until != nil && b.Timestamp >= *until {
			continue
		}
		out = append(out, b)
	}
	if f.chunkLimit > 0 && len(out) > f.chunkLimit {
		if since != nil {
			out = out[:f.chunkLimit]
		} else {
			out = out[len(out)-f.chunkLimit:]
		}
	}
	if limit > 0 && len(out) > limit {
		if since != nil {
			out = out[:limit]
		} else {
			out = out[len(out)-limit:]
		}
	}
	return out, nil
}

func (f *fakePlugin) FetchLatestOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe) (*bars.Bar, error) {
	if len(f.historicalBars) == 0 {
		return nil, nil
	}
	last := f.historicalBars[len(f.historicalBars)-1]
	return &last, nil
}

func (f *fakePlugin) GetMarketInfo(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, nil
}

func (f *fakePlugin) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	if f.validSymbols == nil {
		return true, nil
	}
	return f.validSymbols[symbol], nil
}

func (f *fakePlugin) GetSupportedTimeframes() []string { return f.nativeTFs }

func (f *fakePlugin) GetMaxFetchLimit(timeframe bars.Timeframe) int {
	if f.maxFetchLimit > 0 {
		return f.maxFetchLimit
	}
	return 1000
}

func (f *fakePlugin) SupportedFeatures() plugin.Capabilities { return f.features }

func (f *fakePlugin) Close() error { return nil }

func TestPluginSource_FetchesNativeTimeframeAndPersists1m(t *testing.T) {
	fp := &fakePlugin{
		key:            "fake",
		features:       plugin.Capabilities{plugin.FeatureFetchHistoricalOHLCV: true},
		nativeTFs:      []string{"1m"},
		historicalBars: oneMinSeries(20),
	}
	fc := newFakeCache()
	fs := &fakeStore{}
	src := NewPluginSource(fp, "fake", fc, fs)

	asset := bars.Asset{Market: "crypto", Provider: "fake", Symbol: "BTC"}
	out, err := src.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(out))
	}
	if fc.set1mCalls == 0 {
		t.Fatalf("expected 1m bars to be persisted to cache")
	}
	if len(fs.bars) == 0 {
		t.Fatalf("expected 1m bars to be persisted to db")
	}
}

func TestPluginSource_DegradesToOneMinuteAndResamples(t *testing.T) {
	fp := &fakePlugin{
		key:            "fake",
		features:       plugin.Capabilities{plugin.FeatureFetchHistoricalOHLCV: true},
		nativeTFs:      []string{"1m"}, // no native 5m
		historicalBars: oneMinSeries(30),
	}
	src := NewPluginSource(fp, "fake", newFakeCache(), &fakeStore{})

	tf := bars.MustParseTimeframe("5m")
	asset := bars.Asset{Market: "crypto", Provider: "fake", Symbol: "ETH"}
	out, err := src.Fetch(context.Background(), asset, tf, nil, nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, b := range out {
		if b.Timestamp%tf.PeriodMs != 0 {
			t.Fatalf("bar timestamp %d not aligned to period %d", b.Timestamp, tf.PeriodMs)
		}
	}
}

// stuckPlugin simulates a provider bug: every backward-paging chunk returns
// the same bars regardless of the `until` cursor, so the earliest timestamp
// never advances. chunkedFetch must still terminate (spec.md §4.6: "the
// next computed window collapses to zero duration").
type stuckPlugin struct {
	fakePlugin
	calls int
}

func (f *stuckPlugin) FetchHistoricalOHLCV(ctx context.Context, symbol string, timeframe bars.Timeframe, since, until *int64, limit int) ([]bars.Bar, error) {
	f.calls++
	return f.historicalBars, nil
}

func TestPluginSource_BackwardPagingStopsOnNoProgress(t *testing.T) {
	sp := &stuckPlugin{fakePlugin: fakePlugin{
		key:            "fake",
		features:       plugin.Capabilities{plugin.FeatureFetchHistoricalOHLCV: true},
		nativeTFs:      []string{"1m"},
		maxFetchLimit:  3, // every chunk returns exactly the chunk limit, so it never looks "exhausted"
		historicalBars: oneMinSeries(3),
	}}
	src := NewPluginSource(sp, "fake", newFakeCache(), &fakeStore{})

	asset := bars.Asset{Market: "crypto", Provider: "fake", Symbol: "BTC"}
	done := make(chan struct{})
	go func() {
		_, _ = src.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 500)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chunkedFetch did not terminate when backward paging made no progress")
	}
	if sp.calls > 5 {
		t.Fatalf("expected chunkedFetch to stop quickly on a stuck cursor, made %d calls", sp.calls)
	}
}

// checkerPlugin additionally implements plugin.HistoricalAvailabilityChecker.
type checkerPlugin struct {
	fakePlugin
	availability *int64
	checkCalls   int
}

func (f *checkerPlugin) GetHistoricalDataAvailability(ctx context.Context, symbol string, timeframe bars.Timeframe) (*int64, error) {
	f.checkCalls++
	return f.availability, nil
}

func TestPluginSource_DegradesWhenAvailabilityCheckerReportsInsufficientDepth(t *testing.T) {
	avail := int64(120000) // native history only goes back to ts=120000
	cp := &checkerPlugin{
		fakePlugin: fakePlugin{
			key:            "fake",
			features:       plugin.Capabilities{plugin.FeatureFetchHistoricalOHLCV: true},
			nativeTFs:      []string{"5m"},
			historicalBars: oneMinSeries(30),
		},
		availability: &avail,
	}
	src := NewPluginSource(cp, "fake", newFakeCache(), &fakeStore{})

	since := int64(0) // requested depth predates the reported availability
	asset := bars.Asset{Market: "crypto", Provider: "fake", Symbol: "BTC"}
	tf := bars.MustParseTimeframe("5m")
	out, err := src.Fetch(context.Background(), asset, tf, &since, nil, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.checkCalls == 0 {
		t.Fatal("expected GetHistoricalDataAvailability to be consulted")
	}
	for _, b := range out {
		if b.Timestamp%tf.PeriodMs != 0 {
			t.Fatalf("bar timestamp %d not aligned to period %d; expected degrade-to-1m resample", b.Timestamp, tf.PeriodMs)
		}
	}
}

func TestPluginSource_InvalidSymbolReturnsEmpty(t *testing.T) {
	fp := &fakePlugin{
		key:          "fake",
		features:     plugin.Capabilities{plugin.FeatureFetchHistoricalOHLCV: true},
		nativeTFs:    []string{"1m"},
		validSymbols: map[string]bool{"BTC": true},
	}
	src := NewPluginSource(fp, "fake", newFakeCache(), &fakeStore{})
	asset := bars.Asset{Market: "crypto", Provider: "fake", Symbol: "NOPE"}
	out, err := src.Fetch(context.Background(), asset, bars.OneMinute, nil, nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no bars for invalid symbol, got %d", len(out))
	}
}
