// Package memo wraps asynchronous fetch functions with a TTL cache store.
//
// A Memo derives a cache key from the call arguments, answers from the store
// while the entry is unexpired and otherwise runs the producer, caching only
// successful results. Concurrent calls that derive the same key share one
// producer invocation.
package memo

import (
	"context"
	"strconv"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Func produces a value for args.
type Func[A any, V any] func(ctx context.Context, args A) (V, error)

// KeyFunc derives the cache key for args.
type KeyFunc[A any] func(args A) string

// Config configures a Memo.
type Config struct {
	// Op names the wrapped operation in logs and metrics
	Op string

	// TTL is how long successful results stay readable
	TTL time.Duration

	// Metrics receives hit/miss/error outcomes (default no-op)
	Metrics metrics.MetricsCollector

	// Logger (default global logger)
	Logger *logging.Logger
}

// Memo memoizes a Func over a cache.Store.
type Memo[A any, V any] struct {
	store   cache.Store
	fn      Func[A, V]
	key     KeyFunc[A]
	config  Config
	sf      singleflight.Group
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// New creates a Memo for fn keyed by key over store.
func New[A any, V any](store cache.Store, fn Func[A, V], key KeyFunc[A], config Config) *Memo[A, V] {
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	return &Memo[A, V]{
		store:   store,
		fn:      fn,
		key:     key,
		config:  config,
		metrics: config.Metrics,
		logger:  config.Logger.Or().Named("memo"),
	}
}

// Key returns the cache key Call would use for args.
func (m *Memo[A, V]) Key(args A) string {
	return m.key(args)
}

// Call returns the cached value for args when present and unexpired,
// otherwise runs the producer and caches its result on success.
// Producer failures are returned unchanged and never cached; any value
// previously stored for the key is left as it was.
func (m *Memo[A, V]) Call(ctx context.Context, args A) (V, error) {
	start := time.Now()
	key := m.key(args)

	if v, ok := m.lookup(ctx, key); ok {
		m.metrics.RecordMemoCall(m.config.Op, metrics.MemoHit, time.Since(start))
		return v, nil
	}

	epoch := m.epoch()
	flight := key + "#" + strconv.FormatUint(epoch, 10)

	// The flight outlives any one caller: it runs detached from the starter's
	// cancellation and each caller stops waiting on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.sf.DoChan(flight, func() (interface{}, error) {
		v, err := m.fn(flightCtx, args)
		if err != nil {
			return nil, err
		}
		m.remember(flightCtx, key, v, epoch)
		return v, nil
	})

	var (
		result interface{}
		err    error
		shared bool
	)
	select {
	case r := <-ch:
		result, err, shared = r.Val, r.Err, r.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		m.metrics.RecordMemoCall(m.config.Op, metrics.MemoError, time.Since(start))
		m.logger.Debug("producer failed",
			zap.String("op", m.config.Op),
			zap.String("key", key),
			zap.Error(err),
		)
		var zero V
		return zero, err
	}

	m.metrics.RecordMemoCall(m.config.Op, metrics.MemoMiss, time.Since(start))
	if shared {
		m.logger.Debug("shared in-flight call", zap.String("key", key))
	}
	v, _ := result.(V)
	return v, nil
}

// lookup reads key from the store. Store errors and values of the wrong type
// are treated as misses.
func (m *Memo[A, V]) lookup(ctx context.Context, key string) (V, bool) {
	var zero V

	raw, err := m.store.Get(ctx, key)
	if err != nil {
		if !cache.IsNotFound(err) {
			m.logger.Warn("cache read failed",
				zap.String("key", key),
				zap.String("error_type", cache.ClassifyError(err)),
				zap.Error(err),
			)
		}
		return zero, false
	}

	v, ok := raw.(V)
	if !ok {
		m.logger.Warn("cached value has unexpected type", zap.String("key", key))
		return zero, false
	}
	return v, true
}

// remember writes v under key unless the store was invalidated after epoch was
// read, in which case v may predate the invalidating write.
func (m *Memo[A, V]) remember(ctx context.Context, key string, v V, epoch uint64) {
	if m.epoch() != epoch {
		m.logger.Debug("skipping write of result fetched before invalidation", zap.String("key", key))
		return
	}
	if err := m.store.Set(ctx, key, v, m.config.TTL); err != nil {
		m.logger.Warn("cache write failed",
			zap.String("key", key),
			zap.Error(cache.WrapError(err, m.store.Name(), "set")),
		)
	}
}

func (m *Memo[A, V]) epoch() uint64 {
	if e, ok := m.store.(cache.Epocher); ok {
		return e.Epoch()
	}
	return 0
}
