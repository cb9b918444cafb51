package memory

import (
	"sync"
	"time"

	"ledger-sync/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing and the
// JSON inspection endpoint.
type MemoryCollector struct {
	mu sync.RWMutex

	stores    map[string]*StoreMetrics
	memo      map[string]map[metrics.MemoOutcome]int64
	remote    map[string]*RemoteMetrics
	circuits  map[string]metrics.CircuitState
	mutations map[string]map[string]int64
}

// StoreMetrics holds metrics for a single cache store.
type StoreMetrics struct {
	Hits               int64
	Misses             int64
	Sets               int64
	SetErrors          int64
	Invalidations      int64
	InvalidatedEntries int64

	// InvalidationsByTag counts Invalidate calls per tag
	InvalidationsByTag map[string]int64
}

// RemoteMetrics holds call counts for one remote route.
type RemoteMetrics struct {
	Calls     int64
	Failures  int64
	Latencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.stores = make(map[string]*StoreMetrics)
	mc.memo = make(map[string]map[metrics.MemoOutcome]int64)
	mc.remote = make(map[string]*RemoteMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.mutations = make(map[string]map[string]int64)
}

// store returns the StoreMetrics for name, creating it. Caller holds mu.
func (mc *MemoryCollector) store(name string) *StoreMetrics {
	sm, ok := mc.stores[name]
	if !ok {
		sm = &StoreMetrics{InvalidationsByTag: make(map[string]int64)}
		mc.stores[name] = sm
	}
	return sm
}

// RecordGet records a cache get operation.
func (mc *MemoryCollector) RecordGet(store string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	if hit {
		sm.Hits++
	} else {
		sm.Misses++
	}
}

// RecordSet records a cache set operation.
func (mc *MemoryCollector) RecordSet(store string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	sm.Sets++
	if !success {
		sm.SetErrors++
	}
}

// RecordInvalidate records a tag invalidation.
func (mc *MemoryCollector) RecordInvalidate(store string, tag string, removed int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	sm.Invalidations++
	sm.InvalidatedEntries += int64(removed)
	sm.InvalidationsByTag[tag]++
}

// RecordMemoCall records the outcome of a memoized call.
func (mc *MemoryCollector) RecordMemoCall(op string, outcome metrics.MemoOutcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.memo[op] == nil {
		mc.memo[op] = make(map[metrics.MemoOutcome]int64)
	}
	mc.memo[op][outcome]++
}

// RecordRemoteCall records a call to the remote resource service.
func (mc *MemoryCollector) RecordRemoteCall(method string, route string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := method + " " + route
	rm, ok := mc.remote[key]
	if !ok {
		rm = &RemoteMetrics{}
		mc.remote[key] = rm
	}
	rm.Calls++
	if !success {
		rm.Failures++
	}
	rm.Latencies = append(rm.Latencies, duration)
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
}

// RecordMutation records the final state of an optimistic mutation.
func (mc *MemoryCollector) RecordMutation(kind string, outcome string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.mutations[kind] == nil {
		mc.mutations[kind] = make(map[string]int64)
	}
	mc.mutations[kind][outcome]++
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Stores    map[string]StoreMetrics                   `json:"stores"`
	Memo      map[string]map[metrics.MemoOutcome]int64 `json:"memo"`
	Remote    map[string]RemoteMetrics                  `json:"remote"`
	Circuits  map[string]string                         `json:"circuits"`
	Mutations map[string]map[string]int64               `json:"mutations"`
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Stores:    make(map[string]StoreMetrics, len(mc.stores)),
		Memo:      make(map[string]map[metrics.MemoOutcome]int64, len(mc.memo)),
		Remote:    make(map[string]RemoteMetrics, len(mc.remote)),
		Circuits:  make(map[string]string, len(mc.circuits)),
		Mutations: make(map[string]map[string]int64, len(mc.mutations)),
	}

	for name, sm := range mc.stores {
		cp := *sm
		cp.InvalidationsByTag = make(map[string]int64, len(sm.InvalidationsByTag))
		for tag, n := range sm.InvalidationsByTag {
			cp.InvalidationsByTag[tag] = n
		}
		s.Stores[name] = cp
	}
	for op, outcomes := range mc.memo {
		cp := make(map[metrics.MemoOutcome]int64, len(outcomes))
		for o, n := range outcomes {
			cp[o] = n
		}
		s.Memo[op] = cp
	}
	for route, rm := range mc.remote {
		cp := *rm
		cp.Latencies = append([]time.Duration(nil), rm.Latencies...)
		s.Remote[route] = cp
	}
	for name, state := range mc.circuits {
		s.Circuits[name] = state.String()
	}
	for kind, outcomes := range mc.mutations {
		cp := make(map[string]int64, len(outcomes))
		for o, n := range outcomes {
			cp[o] = n
		}
		s.Mutations[kind] = cp
	}

	return s
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}

// StoreMetrics returns a copy of the metrics for one store, or nil.
func (mc *MemoryCollector) StoreMetrics(store string) *StoreMetrics {
	s := mc.Snapshot()
	if sm, ok := s.Stores[store]; ok {
		return &sm
	}
	return nil
}

// MemoCount returns how many calls to op ended with outcome.
func (mc *MemoryCollector) MemoCount(op string, outcome metrics.MemoOutcome) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.memo[op][outcome]
}

// MutationCount returns how many mutations of kind ended with outcome.
func (mc *MemoryCollector) MutationCount(kind string, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.mutations[kind][outcome]
}
