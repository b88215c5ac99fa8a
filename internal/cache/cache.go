// Package cache implements cache-aside storage over a kv.Store.
//
// Entries carry their own storage timestamp and TTL so that an entry is
// treated as absent once it is logically expired, even when the underlying
// store has not evicted it yet.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agent-smit/marketplace-mcp/internal/kv"
)

// Entry is the persisted envelope around a cached value.
type Entry[T any] struct {
	Data     T     `json:"data"`
	StoredAt int64 `json:"timestamp"` // unix milliseconds
	TTL      int64 `json:"ttl"`       // seconds
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt > e.TTL*1000
}

// Cache wraps a kv.Store. Failures are logged and never returned: a broken
// cache degrades to a miss.
type Cache struct {
	store  kv.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Cache on store.
func New(store kv.Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns the cached value for key. The second result is false on a miss,
// on a logically expired entry (which is purged), or on any store error.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("cache entry undecodable, dropping", zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		return zero, false
	}

	if entry.Expired(c.now()) {
		c.Delete(ctx, key)
		return zero, false
	}
	return entry.Data, true
}

// Set stores data under key for ttl. Errors are logged only.
func Set[T any](ctx context.Context, c *Cache, key string, data T, ttl time.Duration) {
	entry := Entry[T]{
		Data:     data,
		StoredAt: c.now().UnixMilli(),
		TTL:      int64(ttl / time.Second),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("cache entry marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key. Errors are logged only.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Key builds a deterministic key from prefix and params. encoding/json sorts
// map keys, so equal parameter sets always produce the same key.
func Key(prefix string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// Only unsupported value types reach here; fall back to the prefix
		// alone so callers still get a usable (if coarse) key.
		return prefix
	}
	return prefix + ":" + base64.StdEncoding.EncodeToString(raw)
}
