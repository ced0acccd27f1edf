package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"idresolve/internal/contact/models"
)

// Identify results.
const (
	ResultLookup   = "lookup"
	ResultWrite    = "write"
	ResultInvalid  = "invalid"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics provides observability for contact consolidation and the event relay.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	IdentifyRequests *prometheus.CounterVec
	IdentifyLatency  prometheus.Histogram
	ContactsCreated  *prometheus.CounterVec
	Demotions        prometheus.Counter
	Relinks          prometheus.Counter
	TxRetries        prometheus.Counter

	EventsPublished      prometheus.Counter
	EventPublishFailures prometheus.Counter
}

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics with reg. A nil reg leaves them unregistered.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IdentifyRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idresolve_identify_requests_total",
			Help: "Identify requests by result",
		}, []string{"result"}),

		IdentifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idresolve_identify_duration_seconds",
			Help:    "Duration of identify including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ContactsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idresolve_contacts_created_total",
			Help: "Contacts created by link precedence",
		}, []string{"precedence"}),

		Demotions: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_primary_demotions_total",
			Help: "Primaries turned into secondaries by a merge",
		}),

		Relinks: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_secondary_relinks_total",
			Help: "Secondaries moved to a new primary by a merge",
		}),

		TxRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_identify_retries_total",
			Help: "Identify attempts rerun after a lock conflict",
		}),

		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_events_published_total",
			Help: "Outbox events handed to the publisher",
		}),

		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_event_publish_failures_total",
			Help: "Outbox batches the publisher rejected",
		}),
	}
}

func (m *Metrics) IncrementIdentify(result string) {
	if m != nil {
		m.IdentifyRequests.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveIdentifyLatency(d time.Duration) {
	if m != nil {
		m.IdentifyLatency.Observe(d.Seconds())
	}
}

// RecordWrites counts what one consolidation wrote.
func (m *Metrics) RecordWrites(created []models.Contact, demoted, relinked int) {
	if m == nil {
		return
	}
	for _, c := range created {
		m.ContactsCreated.WithLabelValues(string(c.LinkPrecedence)).Inc()
	}
	m.Demotions.Add(float64(demoted))
	m.Relinks.Add(float64(relinked))
}

func (m *Metrics) IncrementRetries() {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) AddEventsPublished(n int) {
	if m != nil {
		m.EventsPublished.Add(float64(n))
	}
}

func (m *Metrics) IncrementPublishFailures() {
	if m != nil {
		m.EventPublishFailures.Inc()
	}
}
