package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method becomes a no-op.
type Metrics struct {
	gatherer       prometheus.Gatherer
	sessions       prometheus.Gauge
	participants   prometheus.Gauge
	events         *prometheus.CounterVec
	fanout         prometheus.Histogram
	drops          *prometheus.CounterVec
	commands       *prometheus.CounterVec
	outboxFailures *prometheus.CounterVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "office",
			Name:      "sessions_active",
			Help:      "Open realtime sessions, bound or not.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "office",
			Name:      "participants_present",
			Help:      "Presence records currently held, including those inside a reconnect grace window.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "office",
			Name:      "events_published_total",
			Help:      "Events fanned out by type.",
		}, []string{"type"}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "office",
			Name:      "event_fanout_sessions",
			Help:      "Sessions reached per published event.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "office",
			Name:      "event_drops_total",
			Help:      "Deliveries dropped per reason.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "office",
			Name:      "commands_total",
			Help:      "Client commands by type and result.",
		}, []string{"type", "result"}),
		outboxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "office",
			Name:      "outbox_failures_total",
			Help:      "Outbox sink failures by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.sessions, m.participants, m.events, m.fanout, m.drops, m.commands, m.outboxFailures)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) SetParticipants(n int) {
	if m != nil {
		m.participants.Set(float64(n))
	}
}

func (m *Metrics) EventPublished(eventType string, fanout int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
	m.fanout.Observe(float64(fanout))
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.drops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Command(commandType, result string) {
	if m != nil {
		m.commands.WithLabelValues(commandType, result).Inc()
	}
}

func (m *Metrics) OutboxFailure(sink string) {
	if m != nil {
		m.outboxFailures.WithLabelValues(sink).Inc()
	}
}
