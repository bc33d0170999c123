// Package metrics defines the Prometheus instrumentation for the cache.
// All record methods are nil-receiver safe so instrumentation stays
// optional: a nil *Metrics disables collection without branching at every
// call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier label values.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// Metrics bundles the cache collectors.
type Metrics struct {
	hits         *prometheus.CounterVec
	misses       prometheus.Counter
	sets         prometheus.Counter
	setFailures  prometheus.Counter
	evicted      prometheus.Counter
	passes       prometheus.Counter
	passDuration prometheus.Histogram
	storeErrors  prometheus.Counter
}

// New creates the cache collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "hits_total",
			Help:      "Cache hits by serving tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "misses_total",
			Help:      "Cache misses (absent from both tiers).",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "sets_total",
			Help:      "Successful cache writes.",
		}),
		setFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "set_failures_total",
			Help:      "Cache writes rejected by the persistent tier.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "evicted_entries_total",
			Help:      "Entries removed by eviction passes.",
		}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "eviction_passes_total",
			Help:      "Completed eviction passes, including no-op passes.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nutstash",
			Name:      "eviction_pass_duration_seconds",
			Help:      "Wall time of eviction passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nutstash",
			Name:      "store_errors_total",
			Help:      "Persistent tier operation failures.",
		}),
	}

	reg.MustRegister(
		m.hits, m.misses, m.sets, m.setFailures,
		m.evicted, m.passes, m.passDuration, m.storeErrors,
	)
	return m
}

// Hit records a cache hit served by the given tier.
func (m *Metrics) Hit(tier string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(tier).Inc()
}

// Miss records a full cache miss.
func (m *Metrics) Miss() {
	if m == nil {
		return
	}
	m.misses.Inc()
}

// Set records a successful write.
func (m *Metrics) Set() {
	if m == nil {
		return
	}
	m.sets.Inc()
}

// SetFailure records a write rejected by the persistent tier.
func (m *Metrics) SetFailure() {
	if m == nil {
		return
	}
	m.setFailures.Inc()
}

// Evicted records n entries removed by an eviction pass.
func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}

// Pass records a completed eviction pass and its duration.
func (m *Metrics) Pass(d time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(d.Seconds())
}

// StoreError records a persistent tier operation failure.
func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}
