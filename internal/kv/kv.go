// Package kv is the key-value substrate used for caches, rate-limit counters,
// usage aggregates and shared sessions. Backends only need per-key atomic
// get/set/delete with an optional time-to-live.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a get/set/delete store with TTL expiry.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Reaper is implemented by backends that need expired rows removed
// periodically because they cannot evict on their own.
type Reaper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
