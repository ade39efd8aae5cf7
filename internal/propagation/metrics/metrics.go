package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for operator propagation.
type Metrics struct {
	Dispatches       prometheus.Counter
	Attempts         *prometheus.CounterVec
	AttemptDuration  prometheus.Histogram
	RetriesScheduled prometheus.Counter
	DeliveriesFailed prometheus.Counter
	Superseded       prometheus.Counter
	Acknowledgements *prometheus.CounterVec
	Recovered        prometheus.Counter
	InFlight         prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Dispatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_propagation_dispatches_total",
			Help: "Exclusion states fanned out to operators",
		}),
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_propagation_attempts_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}),
		AttemptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nser_propagation_attempt_duration_seconds",
			Help:    "Latency of one delivery attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_propagation_retries_scheduled_total",
			Help: "Failed attempts re-queued with backoff",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_propagation_deliveries_failed_total",
			Help: "Mappings that exhausted retries or were rejected and need manual intervention",
		}),
		Superseded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_propagation_superseded_total",
			Help: "Attempts suppressed or cancelled because a newer state exists",
		}),
		Acknowledgements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_propagation_acknowledgements_total",
			Help: "Acknowledgements by channel (sync response or async callback) and result",
		}, []string{"channel", "result"}),
		Recovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_propagation_recovered_total",
			Help: "Mappings re-queued by the recovery scan",
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nser_propagation_attempts_in_flight",
			Help: "Delivery attempts currently running",
		}),
	}
}

func (m *Metrics) IncrementAttempt(outcome string) {
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAttempt(start time.Time) {
	m.AttemptDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementAcknowledgement(channel, result string) {
	m.Acknowledgements.WithLabelValues(channel, result).Inc()
}
