// Package cache provides a generic, thread-safe in-process cache with
// built-in statistics and optional Prometheus metrics.
//
// The bridge uses it for the resource mapper's two lookup maps. Entries
// have no eviction policy: mappings are created once and live for the
// process lifetime, mirroring the durable store they shadow.
package cache

import (
	"github.com/c360/skybridge/errors"
)

// Cache is a generic cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry
	// was created, false if an existing one was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
