// Package cache provides generic, thread-safe cache implementations used by
// the provider manager (short-TTL response cache, 15-minute permission cache)
// and other read paths.
//
// Two cache types are offered:
//   - TTL: time-based eviction with an optional per-entry TTL override
//   - Hybrid: combined LRU and TTL eviction for size-capped caches
//
// All implementations are thread-safe with built-in statistics (always
// enabled) and optional Prometheus metrics via functional options.
package cache

import (
	"time"

	"github.com/c360/healthbridge/errors"
)

// Cache represents a generic cache interface that all implementations satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found and
	// not expired, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the cache's default TTL. Returns true if a new
	// entry was created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// SetWithTTL stores a value with an explicit TTL, overriding the default.
	// A ttl <= 0 falls back to the cache default.
	SetWithTTL(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all non-expired keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and releases background goroutines.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapCorruption(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
