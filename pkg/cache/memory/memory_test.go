package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger-sync/pkg/cache"
	metricsmemory "ledger-sync/pkg/metrics/memory"
)

func newTestCache(clock *cache.ManualClock, maxSize int) *MemoryCache {
	return NewMemoryCache(MemoryCacheConfig{
		Name:       "test",
		MaxSize:    maxSize,
		DefaultTTL: time.Hour,
		Clock:      clock,
	})
}

func TestMemoryCache_Get(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()

	_, err := c.Get(ctx, "nonexistent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := c.Set(ctx, "key1", "value1", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "value1" {
		t.Errorf("Expected 'value1', got %v", value)
	}
}

func TestMemoryCache_Overwrite(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "key1", "old", 0)
	c.Set(ctx, "key1", "new", 0)

	value, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "new" {
		t.Errorf("Expected 'new', got %v", value)
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "key1", "value1", 0)

	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "key1"); err == nil {
		t.Error("Expected miss after delete")
	}

	// Deleting a missing key is fine
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	clock := cache.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c := newTestCache(clock, 0)
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "key1", "value1", 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Fatalf("Get failed before expiration: %v", err)
	}

	clock.Advance(5*time.Minute - time.Nanosecond)
	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Fatalf("Get failed just before expiration: %v", err)
	}

	// Readable only while now < expiresAt
	clock.Advance(time.Nanosecond)
	if _, err := c.Get(ctx, "key1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound at expiry, got %v", err)
	}

	if len(c.Keys()) != 0 {
		t.Errorf("Expected expired entry to be purged on read, still have %v", c.Keys())
	}
}

func TestMemoryCache_DefaultAndMaxTTL(t *testing.T) {
	clock := cache.NewManualClock(time.Unix(0, 0))
	c := NewMemoryCache(MemoryCacheConfig{
		DefaultTTL: time.Minute,
		MaxTTL:     10 * time.Minute,
		Clock:      clock,
	})
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "default", 1, 0)
	c.Set(ctx, "capped", 2, time.Hour)

	clock.Advance(time.Minute)
	if _, err := c.Get(ctx, "default"); err == nil {
		t.Error("Expected default TTL to apply")
	}

	clock.Advance(9 * time.Minute)
	if _, err := c.Get(ctx, "capped"); err == nil {
		t.Error("Expected MaxTTL to cap the entry")
	}
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	clock := cache.NewManualClock(time.Unix(0, 0))
	c := newTestCache(clock, 0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "short", 1, time.Second)
	c.Set(ctx, "long", 2, time.Hour)

	clock.Advance(time.Minute)
	if removed := c.RemoveExpired(); removed != 1 {
		t.Errorf("Expected 1 expired entry removed, got %d", removed)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "long" {
		t.Errorf("Expected only 'long' to remain, got %v", keys)
	}
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()
	keys := []string{
		cache.DeriveKey("loans_all", true, nil, nil, nil),
		"loans_analytics",
		"loans",
		"loansx",
		"payment_methods",
	}
	for _, k := range keys {
		if err := c.Set(ctx, k, k, 0); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	removed, err := c.Invalidate(ctx, "loans")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 entries removed, got %d", removed)
	}

	remaining := c.Keys()
	sort.Strings(remaining)
	want := []string{"loansx", "payment_methods"}
	if strings.Join(remaining, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v to remain, got %v", want, remaining)
	}
}

func TestMemoryCache_InvalidateExactKey(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "payment_methods", 1, 0)

	removed, _ := c.Invalidate(ctx, "payment_methods")
	if removed != 1 {
		t.Errorf("Expected exact key removal, got %d", removed)
	}

	if _, err := c.Invalidate(ctx, ""); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for empty tag, got %v", err)
	}
}

func TestMemoryCache_EpochAndMetrics(t *testing.T) {
	collector := metricsmemory.NewMemoryCollector()
	c := NewMemoryCache(MemoryCacheConfig{
		Name:    "mem",
		Clock:   cache.NewManualClock(time.Unix(0, 0)),
		Metrics: collector,
	})
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "loans_one_[\"1\"]", 1, 0)
	c.Get(ctx, "loans_one_[\"1\"]")
	c.Get(ctx, "missing")

	if c.Epoch() != 0 {
		t.Fatalf("Expected epoch 0, got %d", c.Epoch())
	}
	c.Invalidate(ctx, "loans")
	c.Invalidate(ctx, "loans")
	if c.Epoch() != 2 {
		t.Errorf("Expected epoch 2, got %d", c.Epoch())
	}

	sm := collector.StoreMetrics("mem")
	if sm == nil {
		t.Fatal("Expected store metrics to be recorded")
	}
	if sm.Hits != 1 || sm.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", sm.Hits, sm.Misses)
	}
	if sm.InvalidationsByTag["loans"] != 2 {
		t.Errorf("Expected 2 invalidations of 'loans', got %d", sm.InvalidationsByTag["loans"])
	}
	if sm.InvalidatedEntries != 1 {
		t.Errorf("Expected 1 removed entry, got %d", sm.InvalidatedEntries)
	}
}

func TestMemoryCache_LRU(t *testing.T) {
	clock := cache.NewManualClock(time.Unix(0, 0))
	c := newTestCache(clock, 2)
	defer c.Close()

	ctx := context.Background()

	c.Set(ctx, "key1", "value1", 0)
	clock.Advance(time.Second)
	c.Set(ctx, "key2", "value2", 0)
	clock.Advance(time.Second)

	// Access key1 to make key2 LRU
	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Fatalf("Get key1 failed: %v", err)
	}
	clock.Advance(time.Second)

	// Add third key, should evict key2
	c.Set(ctx, "key3", "value3", 0)

	if _, err := c.Get(ctx, "key1"); err != nil {
		t.Fatalf("key1 should not be evicted: %v", err)
	}
	if _, err := c.Get(ctx, "key2"); err == nil {
		t.Error("key2 should have been evicted")
	}
	if _, err := c.Get(ctx, "key3"); err != nil {
		t.Fatalf("key3 should be present: %v", err)
	}
}

func TestMemoryCache_Concurrency(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{
		Name:            "test",
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Millisecond,
	})
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			key := fmt.Sprintf("loans_one_[%d]", id)
			value := fmt.Sprintf("value%d", id)

			if err := c.Set(ctx, key, value, 0); err != nil {
				t.Errorf("Concurrent Set failed: %v", err)
			}
			c.Get(ctx, key)
			c.Invalidate(ctx, "payment_methods")
			if err := c.Delete(ctx, key); err != nil {
				t.Errorf("Concurrent Delete failed: %v", err)
			}
		}(i)
	}

	wg.Wait()
}

func TestMemoryCache_KeyValidation(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	ctx := context.Background()

	invalidKeys := []string{
		"",
		"key\twith\ttabs",
		"key\nwith\nnewlines",
		strings.Repeat("a", cache.MaxKeyLength+1),
	}

	for _, key := range invalidKeys {
		if err := c.Set(ctx, key, "value", 0); !errors.Is(err, cache.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey on Set for %q, got %v", key, err)
		}
		if _, err := c.Get(ctx, key); !errors.Is(err, cache.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey on Get for %q, got %v", key, err)
		}
		if err := c.Delete(ctx, key); !errors.Is(err, cache.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey on Delete for %q, got %v", key, err)
		}
	}

	// Derived keys contain spaces, quotes and brackets
	if err := c.Set(ctx, `loans_all_[true,"last week",null]`, 1, 0); err != nil {
		t.Errorf("Expected derived key to be accepted, got %v", err)
	}
}

func TestMemoryCache_Closed(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	c.Set(context.Background(), "key1", 1, 0)
	c.Close()

	if err := c.Set(context.Background(), "key2", 2, 0); !errors.Is(err, cache.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
	if len(c.Keys()) != 0 {
		t.Error("Expected data cleared on close")
	}
	// Closing twice is harmless
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 10)
	defer c.Close()

	ctx := context.Background()

	stats := c.Stats()
	if stats.Size != 0 || stats.MaxSize != 10 || stats.Capacity != 10 {
		t.Errorf("Unexpected initial stats %+v", stats)
	}

	c.Set(ctx, "key1", "value1", 0)
	c.Set(ctx, "key2", "value2", 0)
	c.Invalidate(ctx, "key1")

	stats = c.Stats()
	if stats.Size != 1 {
		t.Errorf("Expected size 1, got %d", stats.Size)
	}
	if stats.Epoch != 1 || stats.Invalidations != 1 {
		t.Errorf("Expected one invalidation, got %+v", stats)
	}
}

func TestMemoryCache_UnlimitedSize(t *testing.T) {
	c := newTestCache(cache.NewManualClock(time.Unix(0, 0)), 0)
	defer c.Close()

	if c.Stats().Capacity != -1 {
		t.Errorf("Expected capacity -1 for unlimited, got %d", c.Stats().Capacity)
	}
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	c := NewMemoryCache(MemoryCacheConfig{Name: "bench", DefaultTTL: time.Hour})
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		c.Set(ctx, fmt.Sprintf("loans_one_[%d]", i), i, 0)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(ctx, fmt.Sprintf("loans_one_[%d]", i%1000))
			i++
		}
	})
}

func BenchmarkMemoryCache_Invalidate(b *testing.B) {
	c := NewMemoryCache(MemoryCacheConfig{Name: "bench", DefaultTTL: time.Hour})
	defer c.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, fmt.Sprintf("loans_one_[%d]", i%100), i, 0)
		c.Invalidate(ctx, "loans")
	}
}

func TestMemoryCache_Entries(t *testing.T) {
	clock := cache.NewManualClock(time.Unix(100, 0))
	c := newTestCache(clock, 0)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "payment_methods", 1, time.Minute)
	c.Set(ctx, "loans_analytics", 2, time.Second)
	clock.Advance(2 * time.Second)

	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 live entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Key != "payment_methods" || e.Value != 1 {
		t.Errorf("Unexpected entry %+v", e)
	}
	if ttl := e.TimeToLive(clock.Now()); ttl != 58*time.Second {
		t.Errorf("Expected 58s left, got %v", ttl)
	}
	if !e.CreatedAt.Equal(time.Unix(100, 0)) {
		t.Errorf("Unexpected CreatedAt %v", e.CreatedAt)
	}
}
