package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting sync-layer metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory).
type MetricsCollector interface {
	// Cache store operations
	RecordGet(store string, hit bool, duration time.Duration)
	RecordSet(store string, success bool, duration time.Duration)
	RecordInvalidate(store string, tag string, removed int)

	// Memoized calls
	RecordMemoCall(op string, outcome MemoOutcome, duration time.Duration)

	// Remote resource service
	RecordRemoteCall(method string, route string, success bool, duration time.Duration)
	RecordCircuitState(name string, state CircuitState)

	// Optimistic mutations
	RecordMutation(kind string, outcome string)
}

// MemoOutcome classifies a memoized call.
type MemoOutcome string

const (
	// MemoHit means the value came from the cache store.
	MemoHit MemoOutcome = "hit"
	// MemoMiss means the producer ran and its value was stored.
	MemoMiss MemoOutcome = "miss"
	// MemoError means the producer failed; nothing was stored.
	MemoError MemoOutcome = "error"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordGet does nothing.
func (NoOpCollector) RecordGet(store string, hit bool, duration time.Duration) {}

// RecordSet does nothing.
func (NoOpCollector) RecordSet(store string, success bool, duration time.Duration) {}

// RecordInvalidate does nothing.
func (NoOpCollector) RecordInvalidate(store string, tag string, removed int) {}

// RecordMemoCall does nothing.
func (NoOpCollector) RecordMemoCall(op string, outcome MemoOutcome, duration time.Duration) {}

// RecordRemoteCall does nothing.
func (NoOpCollector) RecordRemoteCall(method string, route string, success bool, duration time.Duration) {
}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordMutation does nothing.
func (NoOpCollector) RecordMutation(kind string, outcome string) {}

// Multi fans every observation out to several collectors.
type Multi []MetricsCollector

// RecordGet forwards to every collector.
func (m Multi) RecordGet(store string, hit bool, duration time.Duration) {
	for _, c := range m {
		c.RecordGet(store, hit, duration)
	}
}

// RecordSet forwards to every collector.
func (m Multi) RecordSet(store string, success bool, duration time.Duration) {
	for _, c := range m {
		c.RecordSet(store, success, duration)
	}
}

// RecordInvalidate forwards to every collector.
func (m Multi) RecordInvalidate(store string, tag string, removed int) {
	for _, c := range m {
		c.RecordInvalidate(store, tag, removed)
	}
}

// RecordMemoCall forwards to every collector.
func (m Multi) RecordMemoCall(op string, outcome MemoOutcome, duration time.Duration) {
	for _, c := range m {
		c.RecordMemoCall(op, outcome, duration)
	}
}

// RecordRemoteCall forwards to every collector.
func (m Multi) RecordRemoteCall(method string, route string, success bool, duration time.Duration) {
	for _, c := range m {
		c.RecordRemoteCall(method, route, success, duration)
	}
}

// RecordCircuitState forwards to every collector.
func (m Multi) RecordCircuitState(name string, state CircuitState) {
	for _, c := range m {
		c.RecordCircuitState(name, state)
	}
}

// RecordMutation forwards to every collector.
func (m Multi) RecordMutation(kind string, outcome string) {
	for _, c := range m {
		c.RecordMutation(kind, outcome)
	}
}
