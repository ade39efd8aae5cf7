package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the exclusion state machine.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	SweepErrors   prometheus.Counter
	DispatchFails prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_exclusion_transitions_total",
			Help: "Committed exclusion transitions by action",
		}, []string{"action"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nser_exclusion_sweep_duration_seconds",
			Help:    "Duration of one expiry/renewal sweep",
			Buckets: prometheus.DefBuckets,
		}),
		SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_exclusion_sweep_errors_total",
			Help: "Due records the sweeper failed to settle",
		}),
		DispatchFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_exclusion_dispatch_failures_total",
			Help: "Transitions whose propagation could not be scheduled",
		}),
	}
}

func (m *Metrics) IncrementTransition(action string) {
	m.Transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSweepError() {
	m.SweepErrors.Inc()
}

func (m *Metrics) IncrementDispatchFailure() {
	m.DispatchFails.Inc()
}
