// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handoff"

// Intent delivery outcomes
const (
	OutcomeDelivered   = "delivered"
	OutcomeUnreachable = "unreachable"
	OutcomeRejected    = "rejected"
)

// Metrics owns its own registry so several relays can run in one process
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsExpired  *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	connections      prometheus.Gauge
	intents          *prometheus.CounterVec
	signalsRelayed   *prometheus.CounterVec
	messagesDropped  prometheus.Counter
	broadcastReached prometheus.Histogram
}

// New creates the collectors and registers them, plus the Go runtime
// collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_expired_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_sessions",
			Help:      "Sessions currently stored.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Live device connections.",
		}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "intents_total",
			Help:      "Intent deliveries, by intent type and outcome.",
		}, []string{"type", "outcome"}),
		signalsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "signals_relayed_total",
			Help:      "WebRTC signaling messages forwarded, by kind.",
		}, []string{"kind"}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because a send queue was full.",
		}),
		broadcastReached: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "group_broadcast_reached",
			Help:      "Devices reached per group or clipboard broadcast.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated,
		m.sessionsExpired,
		m.activeSessions,
		m.connections,
		m.intents,
		m.signalsRelayed,
		m.messagesDropped,
		m.broadcastReached,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionExpired(reason string) {
	m.sessionsExpired.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *Metrics) Intent(intentType, outcome string) {
	m.intents.WithLabelValues(intentType, outcome).Inc()
}

func (m *Metrics) SignalRelayed(kind string) {
	m.signalsRelayed.WithLabelValues(kind).Inc()
}

func (m *Metrics) MessageDropped() {
	m.messagesDropped.Inc()
}

func (m *Metrics) BroadcastReached(n int) {
	m.broadcastReached.Observe(float64(n))
}
