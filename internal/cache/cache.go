// Package cache is the relay's short-lived shared state: per-account
// default projects and the owner of each asynchronous video operation.
//
// Three backends sit behind one interface:
//   - single (Ristretto): in-process cache, the default
//   - ha (Olric): distributed map shared by relay replicas, so a status
//     poll can land on a different replica than the submit
//   - disabled (noop): every read misses
//
// All implementations are safe for concurrent use.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued key/value cache.
type Cache interface {
	// Get returns ErrNotFound on a miss and ErrClosed after Close.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value. A zero ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// Close is idempotent. Every later call returns ErrClosed.
	Close() error
}

// Stats provides cache statistics for the admin pool view.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by backends that keep statistics.
type StatsProvider interface {
	Stats() Stats
}

// Pinger is implemented by backends whose connectivity can fail.
type Pinger interface {
	Ping(ctx context.Context) error
}
