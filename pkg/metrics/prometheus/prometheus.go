package prometheus

import (
	"time"

	"ledger-sync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Cache store
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheSets          *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	invalidations      *prometheus.CounterVec
	invalidatedEntries *prometheus.CounterVec
	getLatency         *prometheus.HistogramVec

	// Memo
	memoCalls   *prometheus.CounterVec
	memoLatency *prometheus.HistogramVec

	// Remote service
	remoteCalls   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
	circuitOpens  *prometheus.CounterVec
	circuitState  *prometheus.GaugeVec

	// Mutations
	mutations *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits per store",
			},
			[]string{"store"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses per store",
			},
			[]string{"store"},
		),
		cacheSets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_sets_total",
				Help:      "Total number of cache set operations per store",
			},
			[]string{"store"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of cache errors per store and operation",
			},
			[]string{"store", "operation"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Total number of tag invalidations per store and tag",
			},
			[]string{"store", "tag"},
		),
		invalidatedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_entries_total",
				Help:      "Total number of entries removed by tag invalidation",
			},
			[]string{"store"},
		),
		getLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_get_duration_seconds",
				Help:      "Cache get operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
			},
			[]string{"store"},
		),
		memoCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memo_calls_total",
				Help:      "Memoized calls per operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		memoLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "memo_call_duration_seconds",
				Help:      "Memoized call latency including producer time on a miss",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"op", "outcome"},
		),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Calls to the remote resource service",
			},
			[]string{"method", "route", "status"},
		),
		remoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Remote resource service call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Optimistic mutations per kind and final state",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheSets,
		pc.cacheErrors,
		pc.invalidations,
		pc.invalidatedEntries,
		pc.getLatency,
		pc.memoCalls,
		pc.memoLatency,
		pc.remoteCalls,
		pc.remoteLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.mutations,
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, collector := range pc.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordGet records a cache get operation.
func (pc *PrometheusCollector) RecordGet(store string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(store).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(store).Inc()
	}
	pc.getLatency.WithLabelValues(store).Observe(duration.Seconds())
}

// RecordSet records a cache set operation.
func (pc *PrometheusCollector) RecordSet(store string, success bool, duration time.Duration) {
	pc.cacheSets.WithLabelValues(store).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(store, "set").Inc()
	}
}

// RecordInvalidate records a tag invalidation.
func (pc *PrometheusCollector) RecordInvalidate(store string, tag string, removed int) {
	pc.invalidations.WithLabelValues(store, tag).Inc()
	pc.invalidatedEntries.WithLabelValues(store).Add(float64(removed))
}

// RecordMemoCall records a memoized call.
func (pc *PrometheusCollector) RecordMemoCall(op string, outcome metrics.MemoOutcome, duration time.Duration) {
	pc.memoCalls.WithLabelValues(op, string(outcome)).Inc()
	pc.memoLatency.WithLabelValues(op, string(outcome)).Observe(duration.Seconds())
}

// RecordRemoteCall records a remote resource service call.
func (pc *PrometheusCollector) RecordRemoteCall(method string, route string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.remoteCalls.WithLabelValues(method, route, status).Inc()
	pc.remoteLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordMutation records the final state of an optimistic mutation.
func (pc *PrometheusCollector) RecordMutation(kind string, outcome string) {
	pc.mutations.WithLabelValues(kind, outcome).Inc()
}
