package subscription

import "time"

// Config carries the per-entry polling tunables of spec.md §6.
type Config struct {
	DefaultChartPoints int
	InitialPollDelay   time.Duration
	MinPollInterval    time.Duration
	MaxPollInterval    time.Duration
	PollJitterFactor   float64

	MaxPollFailuresBeforeBackoff int
	PollBackoffBase              time.Duration
	MaxPollBackoff               time.Duration

	QueueSize int

	// PollFetchLimit bounds how many bars a single poll iteration asks the
	// orchestrator for; spec.md §4.9 only says "since = last_sent_ts,
	// limit = nil" — a generous fixed cap avoids unbounded fetches while
	// staying far above any realistic per-poll delta.
	PollFetchLimit int

	// CatchUpFetchLimit bounds the initial catch-up fetch
	// (since=client-supplied) of spec.md §4.9 step 4; unbounded would let
	// a very old `since` trigger an unbounded historical read.
	CatchUpFetchLimit int
}

// DefaultConfig matches the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		DefaultChartPoints:           200,
		InitialPollDelay:             2 * time.Second,
		MinPollInterval:              1 * time.Second,
		MaxPollInterval:              30 * time.Second,
		PollJitterFactor:             0.2,
		MaxPollFailuresBeforeBackoff: 3,
		PollBackoffBase:              5 * time.Second,
		MaxPollBackoff:               5 * time.Minute,
		QueueSize:                    64,
		PollFetchLimit:               500,
		CatchUpFetchLimit:            5000,
	}
}
