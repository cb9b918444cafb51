// Package chain layers cache stores from fastest to slowest behind the
// cache.Store interface, typically an in-process store in front of a shared
// Redis store.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/writer"

	"go.uber.org/zap"
)

// Config configures a Chain.
type Config struct {
	// Name identifies the chain in logs and metrics (default "chain")
	Name string

	// TTL spreads a Set's TTL over the stores (default uniform)
	TTL TTLStrategy

	// BackfillTTL is used when a hit in a lower store is copied upwards
	// (default 1 minute)
	BackfillTTL time.Duration

	// Writer configures the backfill workers
	Writer writer.AsyncWriterConfig

	Logger *logging.Logger
}

// Chain manages multiple cache stores with automatic fallback and warm-up.
// Stores are ordered from fastest (L1) to slowest (LN).
type Chain struct {
	name    string
	stores  []cache.Store
	writers []*writer.AsyncWriter
	config  Config
	logger  *logging.Logger
	epoch   atomic.Uint64
}

var (
	_ cache.Store   = (*Chain)(nil)
	_ cache.Epocher = (*Chain)(nil)
)

// New creates a new chain of cache stores.
// Stores should be ordered from fastest to slowest (L1 to LN).
// Returns an error if no stores are provided.
func New(config Config, stores ...cache.Store) (*Chain, error) {
	if len(stores) == 0 {
		return nil, errors.New("chain: at least one store required")
	}
	if config.Name == "" {
		config.Name = "chain"
	}
	if config.TTL == nil {
		config.TTL = &UniformTTLStrategy{}
	}
	if config.BackfillTTL <= 0 {
		config.BackfillTTL = time.Minute
	}

	c := &Chain{
		name:   config.Name,
		stores: stores,
		config: config,
		logger: config.Logger.Or().Named("chain"),
	}

	// Backfill writers for every store above the last one
	wc := config.Writer
	wc.Epoch = c.Epoch
	if wc.Logger == nil {
		wc.Logger = config.Logger
	}
	c.writers = make([]*writer.AsyncWriter, len(stores)-1)
	for i := range c.writers {
		c.writers[i] = writer.NewAsyncWriter(stores[i], wc)
	}

	return c, nil
}

// Get retrieves a value from the chain.
// It traverses stores in order until a hit, then warms upper stores in the
// background. Errors from a store are treated as misses of that store.
func (c *Chain) Get(ctx context.Context, key string) (interface{}, error) {
	epoch := c.Epoch()
	var lastErr error

	for i, store := range c.stores {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		value, err := store.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("store read failed",
					zap.String("store", store.Name()),
					zap.String("key", key),
					zap.Error(err),
				)
			}
			lastErr = err
			continue
		}

		// Hit! Warm up upper stores
		if i > 0 {
			c.warmUpperStores(ctx, key, value, i, epoch)
		}

		return value, nil
	}

	if lastErr != nil && !cache.IsNotFound(lastErr) {
		return nil, fmt.Errorf("%w: %v", cache.ErrKeyNotFound, lastErr)
	}
	return nil, cache.ErrKeyNotFound
}

// warmUpperStores enqueues the value for every store above the hit store.
func (c *Chain) warmUpperStores(ctx context.Context, key string, value interface{}, hitIndex int, epoch uint64) {
	for i := hitIndex - 1; i >= 0; i-- {
		ttl := c.config.TTL.GetTTL(i, len(c.stores), c.config.BackfillTTL)
		// Errors are tracked internally by AsyncWriter
		_ = c.writers[i].Write(ctx, key, value, ttl, epoch)
	}
}

// Set writes the value to all stores in the chain.
// If any store fails, the error is returned but other stores are still attempted.
func (c *Chain) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var lastErr error

	for i, store := range c.stores {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		storeTTL := ttl
		if ttl > 0 {
			storeTTL = c.config.TTL.GetTTL(i, len(c.stores), ttl)
		}
		if err := store.Set(ctx, key, value, storeTTL); err != nil {
			lastErr = err
			// Continue to set other stores even if one fails
		}
	}

	return lastErr
}

// Delete removes the key from all stores in the chain.
// If any store fails, the error is returned but other stores are still attempted.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error

	for _, store := range c.stores {
		if err := store.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Invalidate drops tagOrKey from every store, slowest first so that a
// concurrent read cannot refill a faster store from a slower one that has not
// been invalidated yet. Returns the largest count removed from any store.
func (c *Chain) Invalidate(ctx context.Context, tagOrKey string) (int, error) {
	c.epoch.Add(1)

	var (
		removed int
		lastErr error
	)
	for i := len(c.stores) - 1; i >= 0; i-- {
		n, err := c.stores[i].Invalidate(ctx, tagOrKey)
		if err != nil {
			lastErr = err
			continue
		}
		if n > removed {
			removed = n
		}
	}

	return removed, lastErr
}

// Epoch returns the chain's invalidation counter.
func (c *Chain) Epoch() uint64 {
	return c.epoch.Load()
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return c.name
}

// Close closes all stores in the chain.
// Returns the last error encountered, but attempts to close all stores.
func (c *Chain) Close() error {
	var lastErr error

	// Close async writers first
	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}

	// Then close stores
	for _, store := range c.stores {
		if err := store.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Flush waits for pending backfills.
func (c *Chain) Flush(timeout time.Duration) error {
	for _, w := range c.writers {
		if err := w.Flush(timeout); err != nil {
			return err
		}
	}
	return nil
}

// WriterStats returns backfill statistics keyed by store name.
func (c *Chain) WriterStats() map[string]writer.AsyncWriterStats {
	out := make(map[string]writer.AsyncWriterStats, len(c.writers))
	for i, w := range c.writers {
		out[c.stores[i].Name()] = w.Stats()
	}
	return out
}

// Len returns the number of stores in the chain.
func (c *Chain) Len() int {
	return len(c.stores)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.stores))
	for i, store := range c.stores {
		names[i] = store.Name()
	}
	return fmt.Sprintf("chain(%d stores): %s", len(c.stores), strings.Join(names, " -> "))
}
