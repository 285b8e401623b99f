package resampler

import (
	"math"
	"testing"

	"jax-marketdata-core/internal/bars"
)

// TestResample1mTo5m mirrors the worked example: six 1m bars at
// ts = 60000*k for k in 0..5, (o,h,l,c,v) = (k, k+2, k-1, k+1, 10).
func TestResample1mTo5m(t *testing.T) {
	var input []bars.Bar
	for k := int64(0); k <= 5; k++ {
		input = append(input, bars.Bar{
			Timestamp: k * 60000,
			Open:      float64(k),
			High:      float64(k + 2),
			Low:       float64(k - 1),
			Close:     float64(k + 1),
			Volume:    10,
		})
	}

	target := bars.MustParseTimeframe("5m")
	out := Resample(input, target)

	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(out), out)
	}

	b0 := out[0]
	if b0.Timestamp != 0 || b0.Open != 0 || b0.High != 6 || b0.Low != -1 || b0.Close != 5 || b0.Volume != 50 {
		t.Errorf("bucket 0 = %+v, want {0 0 6 -1 5 50}", b0)
	}

	b1 := out[1]
	if b1.Timestamp != 300000 || b1.Open != 5 || b1.High != 7 || b1.Low != 4 || b1.Close != 6 || b1.Volume != 10 {
		t.Errorf("bucket 1 = %+v, want {300000 5 7 4 6 10}", b1)
	}
}

func TestResampleBelowOneMinuteReturnsSorted(t *testing.T) {
	input := []bars.Bar{
		{Timestamp: 2000, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 1000, Open: 2, High: 2, Low: 2, Close: 2},
	}
	out := Resample(input, bars.OneMinute)
	if len(out) != 2 || out[0].Timestamp != 1000 || out[1].Timestamp != 2000 {
		t.Errorf("expected sorted passthrough, got %+v", out)
	}
}

func TestResampleIdempotentUnderReapplication(t *testing.T) {
	var input []bars.Bar
	for k := int64(0); k < 20; k++ {
		input = append(input, bars.Bar{Timestamp: k * 60000, Open: float64(k), High: float64(k + 1), Low: float64(k), Close: float64(k), Volume: 1})
	}
	target := bars.MustParseTimeframe("15m")
	once := Resample(input, target)
	twice := Resample(once, target)
	if len(once) != len(twice) {
		t.Fatalf("Resample is not idempotent: once=%d twice=%d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("bucket %d differs: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestResampleSkipsMalformedBars(t *testing.T) {
	input := []bars.Bar{
		{Timestamp: 0, Open: 1, High: 2, Low: 0, Close: 1, Volume: 1},
		{Timestamp: 60000, Open: 1, High: math.Inf(1), Low: 0, Close: 1, Volume: 1},
	}
	out := Resample(input, bars.MustParseTimeframe("5m"))
	if len(out) != 1 {
		t.Fatalf("expected malformed bar skipped, got %d bars", len(out))
	}
}

func TestResampleEmptyInput(t *testing.T) {
	if out := Resample(nil, bars.MustParseTimeframe("5m")); out != nil {
		t.Errorf("expected nil for empty input, got %+v", out)
	}
}
