package cache

import (
	"context"
	"time"
)

// Store is the TTL cache contract shared by the in-process and Redis backed
// implementations. Keys are derived with DeriveKey so that a whole resource
// family can be dropped at once with Invalidate.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound when the key is missing or its entry has expired.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value under key for ttl, overwriting any existing entry.
	// A non-positive ttl falls back to the store's default TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Invalidate removes the entry whose key equals tagOrKey and every entry
	// whose key starts with tagOrKey followed by the store delimiter.
	// Returns the number of entries removed.
	Invalidate(ctx context.Context, tagOrKey string) (int, error)

	// Name returns the identifier for this store, used in logs and metrics.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

// Epocher is implemented by stores that count invalidations.
// The epoch changes every time Invalidate runs, which lets callers detect that
// a value they fetched before an invalidation must not be written back.
type Epocher interface {
	Epoch() uint64
}

// CacheEntry represents a cached value with metadata.
type CacheEntry struct {
	// Key is the cache key
	Key string

	// Value is the cached value (can be any type)
	Value interface{}

	// ExpiresAt is the first instant at which the entry is no longer readable
	ExpiresAt time.Time

	// CreatedAt is when this entry was stored
	CreatedAt time.Time
}

// IsExpired reports whether the entry is unreadable at now.
// An entry is readable only while now < ExpiresAt.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TimeToLive returns the remaining time-to-live at now.
// Returns 0 if already expired.
func (e *CacheEntry) TimeToLive(now time.Time) time.Duration {
	if e.IsExpired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
