// Package metrics exposes the service's Prometheus instrumentation. A nil
// *Metrics is valid and records nothing, so tests can skip wiring it.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	EventsConsumed  prometheus.Counter
	EventsAcked     prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsPublished *prometheus.CounterVec

	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter

	BroadcastsDelivered prometheus.Counter
	BroadcastsMissed    prometheus.Counter
	SessionsActive      prometheus.Gauge
}

// New builds the metric set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "broker", Name: "events_consumed_total",
			Help: "Inbound broker events handed to the handler.",
		}),
		EventsAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "broker", Name: "events_acked_total",
			Help: "Inbound broker events acknowledged.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "broker", Name: "events_dropped_total",
			Help: "Malformed events acknowledged and dropped.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "broker", Name: "events_published_total",
			Help: "Outbound events published, per destination.",
		}, []string{"destination"}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "jobs", Name: "completed_total",
			Help: "Generation jobs that reached Completed.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "jobs", Name: "failed_total",
			Help: "Generation jobs that reached Failed.",
		}),
		BroadcastsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "ws", Name: "broadcasts_delivered_total",
			Help: "Notification frames accepted by live sessions.",
		}),
		BroadcastsMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptgen", Subsystem: "ws", Name: "broadcasts_missed_total",
			Help: "Broadcasts that found no subscribed session.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptgen", Subsystem: "ws", Name: "sessions_active",
			Help: "Currently registered sessions.",
		}),
	}
}

// Handler serves the registry for promhttp mounting.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics endpoint on the given port. Blocking.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

func (m *Metrics) IncEventsConsumed() {
	if m != nil {
		m.EventsConsumed.Inc()
	}
}

func (m *Metrics) IncEventsAcked() {
	if m != nil {
		m.EventsAcked.Inc()
	}
}

func (m *Metrics) IncEventsDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) IncEventsPublished(destination string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(destination).Inc()
	}
}

func (m *Metrics) IncJobsCompleted() {
	if m != nil {
		m.JobsCompleted.Inc()
	}
}

func (m *Metrics) IncJobsFailed() {
	if m != nil {
		m.JobsFailed.Inc()
	}
}

func (m *Metrics) AddBroadcastsDelivered(n int) {
	if m != nil && n > 0 {
		m.BroadcastsDelivered.Add(float64(n))
	}
}

func (m *Metrics) IncBroadcastsMissed() {
	if m != nil {
		m.BroadcastsMissed.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}
