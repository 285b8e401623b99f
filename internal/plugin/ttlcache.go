package plugin

import (
	"sync"
	"time"
)

// TTLCache is the per-plugin ad-hoc cache of spec.md §9 ("Ad-hoc per-plugin
// caches") and SPEC_FULL.md's SUPPLEMENTED FEATURES: a single (value,
// monotonic expiry) pair behind a mutex, used internally by a Plugin
// implementation for methods like GetSymbols or GetMarketInfo. Never shared
// across plugin instances — each Plugin owns its own TTLCache per cached
// method.
type TTLCache[T any] struct {
	mu      sync.Mutex
	value   T
	expiry  time.Time
	hasData bool
}

// NewTTLCache returns an empty cache.
func NewTTLCache[T any]() *TTLCache[T] {
	return &TTLCache[T]{}
}

// Get returns the cached value and true if present and not yet expired.
func (c *TTLCache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if !c.hasData || time.Now().After(c.expiry) {
		return zero, false
	}
	return c.value, true
}

// Set stores value with the given TTL from now.
func (c *TTLCache[T]) Set(value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.expiry = time.Now().Add(ttl)
	c.hasData = true
}

// Invalidate clears the cached value.
func (c *TTLCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.hasData = false
}
