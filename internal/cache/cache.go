// Package cache provides the short-lived cache behind derived stats views.
// Values are opaque bytes so a shared Redis backend can stand in for the
// in-process one without changing callers.
package cache

import (
	"context"
	"time"
)

// Cache defines the caching operations used by the stats aggregator.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this cache.
	Clear(ctx context.Context) error
}

// Error is a cache error constant.
type Error string

func (e Error) Error() string { return string(e) }

// ErrCacheMiss indicates the key was not found in cache.
const ErrCacheMiss Error = "cache miss"
