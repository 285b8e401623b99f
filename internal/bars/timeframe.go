package bars

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit durations in milliseconds. Calendar-based units (month, year) use
// fixed calendar approximations for period arithmetic, per spec.
const (
	unitMsSecond = 1000
	unitMsMinute = 60 * unitMsSecond
	unitMsHour   = 60 * unitMsMinute
	unitMsDay    = 24 * unitMsHour
	unitMsWeek   = 7 * unitMsDay
	unitMsMonth  = 30 * unitMsDay
	unitMsYear   = 365 * unitMsDay
)

// unitOrder lists recognized unit suffixes, longest first, so "mo" is tried
// before "m" when parsing "1mo".
var unitOrder = []string{"mo", "s", "m", "h", "d", "w", "y"}

var unitMs = map[string]int64{
	"s":  unitMsSecond,
	"m":  unitMsMinute,
	"h":  unitMsHour,
	"d":  unitMsDay,
	"w":  unitMsWeek,
	"mo": unitMsMonth,
	"y":  unitMsYear,
}

// Timeframe is a parsed <count><unit> timeframe string, e.g. "1m", "5m",
// "1h", "1d", "1mo".
type Timeframe struct {
	Raw      string
	Count    int
	Unit     string
	PeriodMs int64
}

// OneMinute is the canonical base timeframe that the Cache, Backfill Manager
// and Plugin Source all operate on.
var OneMinute = Timeframe{Raw: "1m", Count: 1, Unit: "m", PeriodMs: unitMsMinute}

// ParseTimeframe parses a timeframe string per the grammar <int><unit>,
// units: s, m, h, d, w, mo, y.
func ParseTimeframe(raw string) (Timeframe, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Timeframe{}, fmt.Errorf("bars: empty timeframe")
	}

	var unit string
	for _, candidate := range unitOrder {
		if strings.HasSuffix(s, candidate) {
			unit = candidate
			break
		}
	}
	if unit == "" {
		return Timeframe{}, fmt.Errorf("bars: unrecognized timeframe unit in %q", raw)
	}

	countStr := strings.TrimSuffix(s, unit)
	if countStr == "" {
		return Timeframe{}, fmt.Errorf("bars: missing count in timeframe %q", raw)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		return Timeframe{}, fmt.Errorf("bars: invalid count in timeframe %q", raw)
	}

	return Timeframe{
		Raw:      raw,
		Count:    count,
		Unit:     unit,
		PeriodMs: int64(count) * unitMs[unit],
	}, nil
}

// MustParseTimeframe parses raw and panics on error; intended for
// compile-time-known constants (tests, defaults).
func MustParseTimeframe(raw string) Timeframe {
	tf, err := ParseTimeframe(raw)
	if err != nil {
		panic(err)
	}
	return tf
}

// BucketStart returns the start timestamp (ms) of the bucket containing ts
// for a series of the given period.
func BucketStart(ts, periodMs int64) int64 {
	if periodMs <= 0 {
		return ts
	}
	mod := ts % periodMs
	if mod < 0 {
		mod += periodMs
	}
	return ts - mod
}
