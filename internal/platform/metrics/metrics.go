package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ConsentRequestsCreated prometheus.Counter
	ConsentDecisions       *prometheus.CounterVec
	CardReads              *prometheus.CounterVec
	Disclosures            *prometheus.CounterVec
	AuditAppendFailures    prometheus.Counter
	RequestDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConsentRequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "travlr_consent_requests_created_total",
			Help: "Total number of consent requests created by companies",
		}),
		ConsentDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "travlr_consent_decisions_total",
			Help: "Consent request transitions by outcome",
		}, []string{"outcome"}),
		CardReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "travlr_card_reads_total",
			Help: "Master and context card reads by card type",
		}, []string{"card_type"}),
		Disclosures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "travlr_disclosures_total",
			Help: "Disclosure evaluations by classification",
		}, []string{"classification"}),
		AuditAppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "travlr_audit_append_failures_total",
			Help: "Audit log appends that failed and were surfaced as warnings",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "travlr_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// IncDecision records a consent state transition outcome.
func (m *Metrics) IncDecision(outcome string) {
	m.ConsentDecisions.WithLabelValues(outcome).Inc()
}

// IncDisclosure records a disclosure classification.
func (m *Metrics) IncDisclosure(classification string) {
	m.Disclosures.WithLabelValues(classification).Inc()
}
