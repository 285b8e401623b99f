// Package plugin defines the normalized provider contract (spec.md §4.1):
// the fixed set of operations every market-data provider adapter
// implements, the error taxonomy the rest of the pipeline switches on, and
// the small pieces of shared plugin infrastructure (TTL caches, the
// construction registry) that spec.md §9 and §4.1 call for.
package plugin

import "errors"

// Sentinel error kinds, matching spec.md §4.1 and §7's classification.
// Concrete plugin errors wrap one of these with %w so callers can use
// errors.Is/errors.As instead of type-switching on provider-specific types,
// following the donor's libs/marketdata/errors.go idiom.
var (
	// ErrAuth is returned for invalid/expired credentials. Not retried.
	ErrAuth = errors.New("plugin: auth error")
	// ErrNetwork is returned for transient network/rate-limit/5xx/timeout
	// failures. Retryable with backoff.
	ErrNetwork = errors.New("plugin: network error")
	// ErrFeatureNotSupported is returned when the provider cannot serve the
	// requested operation at all (e.g. a timeframe it has no native data
	// for and does not resample from 1m itself).
	ErrFeatureNotSupported = errors.New("plugin: feature not supported")
	// ErrPlugin is the generic fallback for provider errors that don't fit
	// the other categories.
	ErrPlugin = errors.New("plugin: provider error")
	// ErrInvalidSymbol classifies invalid-symbol failures. The reference
	// plugins do not return it: their ValidateSymbol reports an unknown
	// symbol as (false, nil).
	ErrInvalidSymbol = errors.New("plugin: invalid symbol")
)

// IsTransient reports whether err should be retried by the plugin's own
// backoff policy.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsPermanent reports whether err should abort the calling operation
// immediately rather than trying the next DataSource or retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrFeatureNotSupported)
}
