package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsChecked  *prometheus.CounterVec
	RequestsRejected *prometheus.CounterVec
	StoreErrors      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RequestsChecked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_ratelimit_checked_total",
			Help: "Requests checked against a rate limit, by scope",
		}, []string{"scope"}),
		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nser_ratelimit_rejected_total",
			Help: "Requests rejected with 429, by scope",
		}, []string{"scope"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nser_ratelimit_store_errors_total",
			Help: "Rate limit checks that failed open because the store errored",
		}),
	}
}

func (m *Metrics) ObserveCheck(scope string, allowed bool) {
	if m == nil {
		return
	}
	m.RequestsChecked.WithLabelValues(scope).Inc()
	if !allowed {
		m.RequestsRejected.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
