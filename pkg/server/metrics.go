package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// hubMetrics are the hub's own Prometheus metrics. Tree and binder metrics
// come from telemetry.Metrics.
type hubMetrics struct {
	connections     prometheus.Gauge
	connectionsOpen prometheus.Counter
	rooms           prometheus.Gauge
	messagesIn      *prometheus.CounterVec
	messagesOut     prometheus.Counter
	messagesDropped prometheus.Counter
	protocolErrors  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func newHubMetrics(reg prometheus.Registerer, namespace string) *hubMetrics {
	factory := promauto.With(reg)
	return &hubMetrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		connectionsOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections_opened_total",
			Help:      "Websocket connections accepted.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "rooms",
			Help:      "Live rooms.",
		}),
		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_received_total",
			Help:      "Client messages received, by operation.",
		}, []string{"op"}),
		messagesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Server messages queued for delivery.",
		}),
		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_dropped_total",
			Help:      "Server messages dropped because a send queue was full.",
		}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "protocol_errors_total",
			Help:      "Protocol errors returned to clients, by code.",
		}, []string{"code"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// The methods below are nil-safe so the hub can run without metrics.

func (m *hubMetrics) connOpened() {
	if m != nil {
		m.connections.Inc()
		m.connectionsOpen.Inc()
	}
}

func (m *hubMetrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *hubMetrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *hubMetrics) received(op string) {
	if m != nil {
		if op == "" {
			op = "invalid"
		}
		m.messagesIn.WithLabelValues(op).Inc()
	}
}

func (m *hubMetrics) sent() {
	if m != nil {
		m.messagesOut.Inc()
	}
}

func (m *hubMetrics) dropped() {
	if m != nil {
		m.messagesDropped.Inc()
	}
}

func (m *hubMetrics) protocolError(code string) {
	if m != nil {
		m.protocolErrors.WithLabelValues(code).Inc()
	}
}

func (m *hubMetrics) request(route, method string, code int, d time.Duration) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
	}
}
