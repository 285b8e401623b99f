// Package resampler implements the pure 1m-to-higher-timeframe bucket
// aggregation used by the Cache Source and Plugin Source.
package resampler

import (
	"math"
	"sort"

	"jax-marketdata-core/internal/bars"
)

// Resample maps an oldest-first (or unsorted) list of 1m bars to bars of
// target. If target's period is <= 1m, the input is returned sorted and
// otherwise unchanged. Malformed bars (non-finite numbers) are skipped;
// empty buckets are omitted, never forward-filled.
func Resample(oneMin []bars.Bar, target bars.Timeframe) []bars.Bar {
	if len(oneMin) == 0 {
		return nil
	}

	sorted := make([]bars.Bar, 0, len(oneMin))
	for _, b := range oneMin {
		if !finite(b) {
			continue
		}
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	if target.PeriodMs <= bars.OneMinute.PeriodMs {
		return sorted
	}

	type bucket struct {
		bar bars.Bar
	}
	order := make([]int64, 0)
	buckets := make(map[int64]*bucket)

	for _, b := range sorted {
		start := bars.BucketStart(b.Timestamp, target.PeriodMs)
		bk, ok := buckets[start]
		if !ok {
			bk = &bucket{bar: bars.Bar{
				Timestamp: start,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}}
			buckets[start] = bk
			order = append(order, start)
			continue
		}
		if b.High > bk.bar.High {
			bk.bar.High = b.High
		}
		if b.Low < bk.bar.Low {
			bk.bar.Low = b.Low
		}
		bk.bar.Close = b.Close
		bk.bar.Volume += b.Volume
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]bars.Bar, 0, len(order))
	for _, start := range order {
		out = append(out, buckets[start].bar)
	}
	return out
}

func finite(b bars.Bar) bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
