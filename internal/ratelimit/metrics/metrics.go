package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision labels.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// Metrics covers limiter decisions and the health of its Redis backend.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	Decisions   *prometheus.CounterVec
	StoreErrors prometheus.Counter
	Degraded    prometheus.Gauge
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idresolve_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome",
		}, []string{"decision"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "idresolve_ratelimit_store_errors_total",
			Help: "Rate limit checks that failed against Redis",
		}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "idresolve_ratelimit_degraded",
			Help: "1 while the limiter serves from the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncrementDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.Decisions.WithLabelValues(DecisionAllowed).Inc()
		return
	}
	m.Decisions.WithLabelValues(DecisionDenied).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
