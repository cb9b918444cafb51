package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/logging"

	"go.uber.org/zap"
)

// AsyncWriter provides non-blocking cache writes using a worker pool and bounded queue.
// It keeps backfills of faster stores off the read path. A write enqueued before
// an invalidation is discarded instead of resurrecting invalidated data.
type AsyncWriter struct {
	store      cache.Store
	queue      chan writeOp
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	logger     *logging.Logger

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	staleWrites   int64
	// pending counts enqueued writes not yet applied
	pending int64
}

// writeOp represents a pending write operation.
type writeOp struct {
	key   string
	value interface{}
	ttl   time.Duration
	// epoch is the invalidation epoch the value was read under
	epoch uint64
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if queue is full.
	// 0 means the default of 10ms.
	MaxWaitTime time.Duration

	// Epoch reports the current invalidation epoch. Writes whose epoch no
	// longer matches are skipped. Nil disables the check.
	Epoch func() uint64

	Logger *logging.Logger
}

// NewAsyncWriter creates a new async writer with bounded queue and worker pool.
// The writer starts processing immediately and must be closed with Close().
func NewAsyncWriter(store cache.Store, config AsyncWriterConfig) *AsyncWriter {
	// Apply defaults
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		store:      store,
		queue:      make(chan writeOp, config.QueueSize),
		workers:    config.Workers,
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     config.Logger.Or().Named("writer").With(zap.String("store", store.Name())),
	}

	// Start worker pool
	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	return w
}

// Write enqueues a write operation read under epoch.
// If the queue is full, it waits up to MaxWaitTime before dropping the write.
// Returns ErrQueueFull if the write was dropped due to backpressure.
func (w *AsyncWriter) Write(ctx context.Context, key string, value interface{}, ttl time.Duration, epoch uint64) error {
	// Check if writer is closed first
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	// Check if caller's context is cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	op := writeOp{key: key, value: value, ttl: ttl, epoch: epoch}

	// Try to enqueue with timeout
	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&w.pending, 1)
	select {
	case w.queue <- op:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.pending, -1)
		atomic.AddInt64(&w.droppedWrites, 1)
		w.logger.Debug("write dropped", zap.String("key", key))
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	case <-w.ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ErrWriterClosed
	}
}

// worker processes write operations from the queue.
func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.ctx.Done():
			// Drain remaining items in queue before exiting
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	defer atomic.AddInt64(&w.pending, -1)

	if w.config.Epoch != nil && w.config.Epoch() != op.epoch {
		atomic.AddInt64(&w.staleWrites, 1)
		return
	}
	if err := w.store.Set(context.Background(), op.key, op.value, op.ttl); err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Warn("async write failed", zap.String("key", op.key), zap.Error(err))
	}
}

// Flush waits for all pending writes to complete or until timeout.
// Returns an error if timeout is exceeded.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&w.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting new writes and waits for workers to complete.
// Any writes in the queue will be processed before shutdown.
func (w *AsyncWriter) Close() error {
	// Signal workers to stop after draining queue
	w.cancelFunc()

	// Wait for all workers to finish
	w.wg.Wait()

	return nil
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    int(atomic.LoadInt64(&w.pending)),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
		StaleWrites:   atomic.LoadInt64(&w.staleWrites),
	}
}
