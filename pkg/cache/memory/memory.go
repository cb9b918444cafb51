package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/metrics"
)

// MemoryCache is the in-process TTL cache store.
// It provides thread-safe operations, lazy TTL expiration against an injected
// clock, prefix (tag) invalidation and optional LRU eviction.
type MemoryCache struct {
	// data stores the cache entries
	data map[string]*entry

	// mu protects concurrent access to data
	mu sync.Mutex

	config  MemoryCacheConfig
	clock   cache.Clock
	metrics metrics.MetricsCollector

	// epoch is bumped on every Invalidate
	epoch         atomic.Uint64
	invalidations atomic.Int64

	closed bool

	// cleanup goroutine control; nil when CleanupInterval is zero
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
}

// entry represents a cache entry with metadata for LRU and TTL
type entry struct {
	value      interface{}
	createdAt  time.Time
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	// Name is the store identifier
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// DefaultTTL is used when Set receives a non-positive TTL
	DefaultTTL time.Duration

	// MaxTTL caps every TTL (0 = no cap)
	MaxTTL time.Duration

	// CleanupInterval is how often expired entries are swept.
	// Zero disables the sweeper; expired entries are still purged on access.
	CleanupInterval time.Duration

	// Delimiter separates tag and suffix in keys (default "_")
	Delimiter string

	// Clock supplies the current time (default cache.SystemClock)
	Clock cache.Clock

	// Metrics receives get/set/invalidate observations (default no-op)
	Metrics metrics.MetricsCollector
}

// NewMemoryCache creates a new in-memory store with the given configuration.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.Delimiter == "" {
		config.Delimiter = cache.DefaultDelimiter
	}
	if config.Clock == nil {
		config.Clock = cache.SystemClock{}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	c := &MemoryCache{
		data:    make(map[string]*entry),
		config:  config,
		clock:   config.Clock,
		metrics: config.Metrics,
	}

	if config.CleanupInterval > 0 {
		c.stopCleanup = make(chan struct{})
		c.cleanupTicker = time.NewTicker(config.CleanupInterval)
		c.wg.Add(1)
		go c.cleanup()
	}

	return c
}

// Get returns the stored value while now < expiresAt.
// Expired and missing entries both yield cache.ErrKeyNotFound.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	now := c.clock.Now()

	c.mu.Lock()
	e, exists := c.data[key]
	if exists && !now.Before(e.expiresAt) {
		delete(c.data, key)
		exists = false
	}
	if exists {
		e.accessedAt = now
	}
	c.mu.Unlock()

	c.metrics.RecordGet(c.config.Name, exists, time.Since(start))

	if !exists {
		return nil, cache.ErrKeyNotFound
	}
	return e.value, nil
}

// Set stores value under key until now+ttl, overwriting any existing entry.
// Enforces MaxSize by evicting the least recently used entry.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	if err := cache.ValidateKey(key); err != nil {
		c.metrics.RecordSet(c.config.Name, false, time.Since(start))
		return err
	}

	ttl = c.effectiveTTL(ttl)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.RecordSet(c.config.Name, false, time.Since(start))
		return cache.ErrStoreClosed
	}

	if _, overwrite := c.data[key]; !overwrite && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	c.data[key] = &entry{
		value:      value,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}

	c.metrics.RecordSet(c.config.Name, true, time.Since(start))
	return nil
}

// evictLRU drops the least recently accessed entry. Caller holds mu.
func (c *MemoryCache) evictLRU() {
	var lruKey string
	var lruTime time.Time

	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

func (c *MemoryCache) effectiveTTL(ttl time.Duration) time.Duration {
	cfg := cache.StoreConfig{DefaultTTL: c.config.DefaultTTL, MaxTTL: c.config.MaxTTL}
	return cfg.EffectiveTTL(ttl)
}

// Delete removes a key from the cache.
// Returns nil even if the key doesn't exist.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	return nil
}

// Invalidate removes tagOrKey itself and every key prefixed by
// tagOrKey+delimiter, all under one lock.
func (c *MemoryCache) Invalidate(ctx context.Context, tagOrKey string) (int, error) {
	if tagOrKey == "" {
		return 0, cache.ErrInvalidKey
	}

	c.mu.Lock()
	removed := 0
	for key := range c.data {
		if cache.MatchesTag(key, tagOrKey, c.config.Delimiter) {
			delete(c.data, key)
			removed++
		}
	}
	c.epoch.Add(1)
	c.mu.Unlock()

	c.invalidations.Add(1)
	c.metrics.RecordInvalidate(c.config.Name, tagOrKey, removed)

	return removed, nil
}

// Epoch returns the number of invalidations performed so far.
func (c *MemoryCache) Epoch() uint64 {
	return c.epoch.Load()
}

// Name returns the store name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the background sweeper and clears all data.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cleanupTicker != nil {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
		c.wg.Wait()
	}

	c.mu.Lock()
	c.data = make(map[string]*entry)
	c.mu.Unlock()

	return nil
}

// cleanup runs in a background goroutine to remove expired entries.
func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.RemoveExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// RemoveExpired removes all expired entries and returns how many were dropped.
func (c *MemoryCache) RemoveExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Keys returns the keys currently held, including expired ones not yet purged.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Entries returns the readable entries sorted by key.
func (c *MemoryCache) Entries() []cache.CacheEntry {
	now := c.clock.Now()

	c.mu.Lock()
	out := make([]cache.CacheEntry, 0, len(c.data))
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			continue
		}
		out = append(out, cache.CacheEntry{
			Key:       k,
			Value:     e.value,
			ExpiresAt: e.expiresAt,
			CreatedAt: e.createdAt,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := MemoryCacheStats{
		Size:          len(c.data),
		MaxSize:       c.config.MaxSize,
		Capacity:      c.config.MaxSize,
		Epoch:         c.epoch.Load(),
		Invalidations: c.invalidations.Load(),
	}

	if stats.Capacity == 0 {
		stats.Capacity = -1 // Unlimited
	}

	return stats
}

// MemoryCacheStats holds cache statistics.
type MemoryCacheStats struct {
	Size          int    `json:"size"`          // Current number of entries
	MaxSize       int    `json:"max_size"`      // Maximum allowed entries (0 = unlimited)
	Capacity      int    `json:"capacity"`      // Effective capacity (-1 = unlimited)
	Epoch         uint64 `json:"epoch"`         // Invalidation epoch
	Invalidations int64  `json:"invalidations"` // Invalidate calls served
}
