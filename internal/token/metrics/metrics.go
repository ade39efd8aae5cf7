package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the token module.
type Metrics struct {
	TokensIssued        prometheus.Counter
	TokensRotated       prometheus.Counter
	TokensCompromised   prometheus.Counter
	Validations         *prometheus.CounterVec
	ValidateDuration    prometheus.Histogram
	UsageUpdatesDropped prometheus.Counter
}

// New creates a new Metrics instance with all token module metrics registered.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_tokens_issued_total",
			Help: "Total number of tokens issued, including rotation successors",
		}),
		TokensRotated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_tokens_rotated_total",
			Help: "Total number of token rotations",
		}),
		TokensCompromised: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_tokens_compromised_total",
			Help: "Total number of tokens marked compromised",
		}),
		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_token_validations_total",
			Help: "Token validations by outcome (valid, malformed, not_found, compromised, revoked)",
		}, []string{"outcome"}),
		ValidateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nser_token_validate_duration_seconds",
			Help:    "Duration of token validation (operator critical path)",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		UsageUpdatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_token_usage_updates_dropped_total",
			Help: "Usage updates dropped because the recorder buffer was full",
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	m.TokensIssued.Inc()
}

func (m *Metrics) IncrementRotated() {
	m.TokensRotated.Inc()
}

func (m *Metrics) IncrementCompromised() {
	m.TokensCompromised.Inc()
}

// ObserveValidation records the outcome and duration of a validation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveValidation(outcome string, start time.Time) {
	m.Validations.WithLabelValues(outcome).Inc()
	m.ValidateDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementUsageDropped() {
	m.UsageUpdatesDropped.Inc()
}
