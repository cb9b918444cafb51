package writer

import "errors"

// AsyncWriterStats provides statistics about async writer operations.
type AsyncWriterStats struct {
	// QueueDepth is the number of writes enqueued but not yet applied
	QueueDepth int `json:"queue_depth"`

	// DroppedWrites is the total number of writes dropped due to backpressure
	DroppedWrites int64 `json:"dropped_writes"`

	// TotalWrites is the total number of writes enqueued
	TotalWrites int64 `json:"total_writes"`

	// FailedWrites is the total number of writes the store rejected
	FailedWrites int64 `json:"failed_writes"`

	// StaleWrites counts writes skipped because an invalidation happened
	// after their value was read
	StaleWrites int64 `json:"stale_writes"`
}

// Errors returned by async writer operations.
var (
	// ErrQueueFull is returned when the write queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when attempting to write to a closed writer
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for queue to drain
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
