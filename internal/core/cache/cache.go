// Package cache defines the cache boundary used by the cached-read service.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a byte-oriented key/value store with TTL expiry.
type Cache interface {
	// Get returns the value for key, or nil when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means the implementation's
	// default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeletePattern removes every key matching the glob pattern and
	// returns the number removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Key builds the cache key for one document.
func Key(prefix, collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, collection, id)
}

// CollectionPattern builds the glob matching every key of a collection.
func CollectionPattern(prefix, collection string) string {
	return fmt.Sprintf("%s:%s:*", prefix, collection)
}
