package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts rate limit decisions. Every method is safe on a nil receiver.
type Metrics struct {
	Rejected     *prometheus.CounterVec
	StoreErrors  prometheus.Counter
	FallbackUsed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_ratelimit_rejected_total",
			Help: "Requests rejected by the per-tenant rate limit",
		}, []string{"class"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_ratelimit_store_errors_total",
			Help: "Rate limit checks that failed against the primary store",
		}),
		FallbackUsed: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_ratelimit_fallback_checks_total",
			Help: "Rate limit checks answered by the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncRejected(class string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(class).Inc()
}

func (m *Metrics) IncStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) IncFallbackUsed() {
	if m == nil {
		return
	}
	m.FallbackUsed.Inc()
}
