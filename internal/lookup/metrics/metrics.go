package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the operator lookup path.
type Metrics struct {
	// Lookup outcomes by source (token, identifier) and outcome
	// (excluded, not_excluded, unknown, malformed).
	Lookups *prometheus.CounterVec

	// Result cache hits and misses
	CacheResults *prometheus.CounterVec

	// End-to-end lookup latency. The SLA is 50ms.
	LookupLatency prometheus.Histogram
}

// New creates a new Metrics instance with all lookup metrics registered.
func New() *Metrics {
	return &Metrics{
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_lookups_total",
			Help: "Total operator lookups by source and outcome",
		}, []string{"source", "outcome"}),

		CacheResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_lookup_cache_results_total",
			Help: "Lookup result cache hits and misses",
		}, []string{"result"}),

		LookupLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nser_lookup_duration_seconds",
			Help:    "Duration of operator lookups including cache and store reads",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// ObserveLookup records a completed lookup.
func (m *Metrics) ObserveLookup(source, outcome string, d time.Duration) {
	if m != nil {
		m.Lookups.WithLabelValues(source, outcome).Inc()
		m.LookupLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementCacheHit() {
	if m != nil {
		m.CacheResults.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) IncrementCacheMiss() {
	if m != nil {
		m.CacheResults.WithLabelValues("miss").Inc()
	}
}
