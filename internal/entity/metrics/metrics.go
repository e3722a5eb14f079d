package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the entity module. Every method is safe
// on a nil receiver.
type Metrics struct {
	// Write path
	Writes           *prometheus.CounterVec
	ConflictRetries  prometheus.Counter
	RetriesExhausted prometheus.Counter
	OpLatency        *prometheus.HistogramVec

	// Schema cache
	SchemaCache       *prometheus.CounterVec
	SchemaFetchErrors prometheus.Counter

	// Change events
	EventsGenerated  *prometheus.CounterVec
	EventsSuppressed *prometheus.CounterVec
	EventsPublished  prometheus.Counter
	PublishRetries   prometheus.Counter
	PublishExhausted prometheus.Counter
	EventsDropped    prometheus.Counter
	RelaySkipped     *prometheus.CounterVec
}

// New creates the entity metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_entity_writes_total",
			Help: "Entity write operations by operation and outcome",
		}, []string{"operation", "outcome"}), // outcome: committed, noop, skipped, error

		ConflictRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_entity_conflict_retries_total",
			Help: "Read-merge-write cycles retried after a version conflict",
		}),

		RetriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_entity_conflict_retries_exhausted_total",
			Help: "Writes that gave up after exhausting conflict retries",
		}),

		OpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entitystore_entity_operation_duration_seconds",
			Help:    "Duration of entity service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		SchemaCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_schema_cache_lookups_total",
			Help: "Schema cache lookups by result",
		}, []string{"result"}), // result: hit, miss, stale

		SchemaFetchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_schema_fetch_errors_total",
			Help: "Schema source fetches that failed",
		}),

		EventsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_change_events_generated_total",
			Help: "Change events enqueued by event type",
		}, []string{"event_type"}),

		EventsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_change_events_suppressed_total",
			Help: "Writes that produced no change event, by reason",
		}, []string{"reason"}),

		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_change_events_published_total",
			Help: "Change events published to the bus",
		}),

		PublishRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_change_event_publish_retries_total",
			Help: "Publish attempts beyond the first for a record",
		}),

		PublishExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_change_event_publish_exhausted_total",
			Help: "Records whose publish retries ran out within a drain",
		}),

		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "entitystore_change_events_dropped_total",
			Help: "Records marked failed and never published",
		}),

		RelaySkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "entitystore_change_event_relay_skipped_total",
			Help: "Relay ticks skipped, by reason",
		}, []string{"reason"}), // reason: circuit_open, lock_held
	}
}

func (m *Metrics) IncWrite(operation, outcome string) {
	if m != nil {
		m.Writes.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) IncConflictRetry() {
	if m != nil {
		m.ConflictRetries.Inc()
	}
}

func (m *Metrics) IncRetriesExhausted() {
	if m != nil {
		m.RetriesExhausted.Inc()
	}
}

// ObserveOperation records how long a service operation took.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OpLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncSchemaCacheHit() {
	if m != nil {
		m.SchemaCache.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) IncSchemaCacheMiss() {
	if m != nil {
		m.SchemaCache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) IncSchemaCacheStale() {
	if m != nil {
		m.SchemaCache.WithLabelValues("stale").Inc()
	}
}

func (m *Metrics) IncSchemaFetchError() {
	if m != nil {
		m.SchemaFetchErrors.Inc()
	}
}

func (m *Metrics) IncEventGenerated(eventType string) {
	if m != nil {
		m.EventsGenerated.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) IncEventSuppressed(reason string) {
	if m != nil {
		m.EventsSuppressed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncEventPublished() {
	if m != nil {
		m.EventsPublished.Inc()
	}
}

func (m *Metrics) IncPublishRetry() {
	if m != nil {
		m.PublishRetries.Inc()
	}
}

func (m *Metrics) IncPublishExhausted() {
	if m != nil {
		m.PublishExhausted.Inc()
	}
}

func (m *Metrics) IncEventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) IncRelaySkipped(reason string) {
	if m != nil {
		m.RelaySkipped.WithLabelValues(reason).Inc()
	}
}
