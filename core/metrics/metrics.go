package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taller-core/config"
)

// Metrics holds the Prometheus collectors. A disabled config yields a no-op
// instance so call sites never need nil checks.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	transitionsApplied *prometheus.CounterVec
	transitionsDenied  prometheus.Counter
	assignmentsTotal   prometheus.Counter
	escalationsTotal   *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
}

func New(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		enabled:  true,
		registry: registry,
		transitionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "transitions_applied_total",
			Help:      "State transitions applied, by target state",
		}, []string{"to_state"}),
		transitionsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "transitions_denied_total",
			Help:      "Transition requests rejected for permission or validity",
		}),
		assignmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "assignments_total",
			Help:      "Queue entries dispatched to technicians",
		}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "escalations_total",
			Help:      "Customer notifications recorded, by tier",
		}, []string{"tier"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "queue_depth",
			Help:      "Current dispatch queue depth per family and center",
		}, []string{"product_family", "service_center"}),
	}
	registry.MustRegister(m.transitionsApplied, m.transitionsDenied, m.assignmentsTotal, m.escalationsTotal, m.queueDepth)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TransitionApplied(toState string) {
	if m.enabled {
		m.transitionsApplied.WithLabelValues(toState).Inc()
	}
}

func (m *Metrics) TransitionDenied() {
	if m.enabled {
		m.transitionsDenied.Inc()
	}
}

func (m *Metrics) AssignmentDispatched() {
	if m.enabled {
		m.assignmentsTotal.Inc()
	}
}

func (m *Metrics) EscalationRecorded(tier string) {
	if m.enabled {
		m.escalationsTotal.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) SetQueueDepth(family, center string, depth int) {
	if m.enabled {
		m.queueDepth.WithLabelValues(family, center).Set(float64(depth))
	}
}
