package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
	"github.com/vango-dev/scopebind/pkg/snapshot"
)

// Config holds hub server configuration.
type Config struct {
	// Addr is the listen address used by Run.
	// Default: ":7070".
	Addr string

	// ReadTimeout is the HTTP server read timeout. Websocket reads use
	// HeartbeatInterval instead.
	// Default: 10 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline for a single websocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between websocket pings. A connection
	// that sends nothing (not even a pong) for two intervals is closed.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming websocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// SendQueue is the per-connection outbound buffer. Messages that do not
	// fit are dropped.
	// Default: 256.
	SendQueue int

	// DispatchQueue is the hub loop's inbound buffer.
	// Default: 1024.
	DispatchQueue int

	// Policy is the binder's destroyed-source policy.
	Policy bind.DestroyedSourcePolicy

	// Registry receives hub and tree metrics. Nil disables metrics and the
	// metrics route.
	Registry *prometheus.Registry

	// MetricsNamespace prefixes every metric name.
	// Default: "scopebind".
	MetricsNamespace string

	// MetricsEventLabels labels dispatch metrics by event name. Event
	// names come from clients, so leave it off unless they are trusted.
	// Default: false.
	MetricsEventLabels bool

	// MetricsPath is where the registry is served.
	// Default: "/metrics".
	MetricsPath string

	// Observers are attached to the hub root in addition to metrics.
	Observers []scope.Observer

	// BindObservers are attached to the hub binder in addition to metrics.
	BindObservers []bind.Observer

	// Tracer, when set, opens a span per HTTP request. Dispatch spans are
	// configured separately through Observers.
	Tracer trace.Tracer

	// Sink receives snapshots from POST /snapshots. Nil disables the route.
	Sink snapshot.Sink

	// SnapshotFormat is the snapshot encoding.
	// Default: json.
	SnapshotFormat snapshot.Format

	// CheckOrigin validates websocket origins. Nil allows same-origin
	// requests only.
	CheckOrigin func(r *http.Request) bool

	// Logger is the structured logger.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":7070",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxMessageSize:    64 * 1024,
		SendQueue:         256,
		DispatchQueue:     1024,
		MetricsNamespace:  "scopebind",
		MetricsPath:       "/metrics",
		SnapshotFormat:    snapshot.FormatJSON,
	}
}

// withDefaults returns a copy of c with zero fields filled in.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		d.Logger = slog.Default()
		return d
	}
	out := *c
	if out.Addr == "" {
		out.Addr = d.Addr
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.SendQueue <= 0 {
		out.SendQueue = d.SendQueue
	}
	if out.DispatchQueue <= 0 {
		out.DispatchQueue = d.DispatchQueue
	}
	if out.MetricsNamespace == "" {
		out.MetricsNamespace = d.MetricsNamespace
	}
	if out.MetricsPath == "" {
		out.MetricsPath = d.MetricsPath
	}
	if out.SnapshotFormat == "" {
		out.SnapshotFormat = d.SnapshotFormat
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
