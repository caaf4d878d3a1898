package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "scopebind").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// EventLabels labels dispatch metrics by event name. Disable it when
	// event names are unbounded.
	EventLabels bool

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithEventLabels enables or disables the per-event label.
func WithEventLabels(enabled bool) MetricsOption {
	return func(c *MetricsConfig) {
		c.EventLabels = enabled
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "scopebind",
		Subsystem:   "",
		ConstLabels: nil,
		Buckets:     prometheus.DefBuckets,
		EventLabels: true,
		Registry:    prometheus.DefaultRegisterer,
	}
}

// Metrics records tree and binder activity as Prometheus metrics.
// It implements both scope.Observer and bind.Observer.
type Metrics struct {
	eventLabels bool

	dispatchesTotal     *prometheus.CounterVec
	deliveriesTotal     *prometheus.CounterVec
	handlerFailures     *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	nodesDestroyed      prometheus.Counter
	subscriptionsBound  prometheus.Counter
	subscriptionsFreed  *prometheus.CounterVec
	subscriptionsActive prometheus.Gauge
}

var (
	_ scope.Observer = (*Metrics)(nil)
	_ bind.Observer  = (*Metrics)(nil)
)

// Prometheus creates a Metrics observer and registers its collectors.
//
// Metrics collected:
//   - scopebind_dispatches_total: Counter of emits and broadcasts by direction and event
//   - scopebind_deliveries_total: Counter of listener invocations by direction and event
//   - scopebind_handler_failures_total: Counter of recovered listener panics
//   - scopebind_dispatch_duration_seconds: Histogram of dispatch duration by direction
//   - scopebind_nodes_destroyed_total: Counter of destroyed nodes
//   - scopebind_subscriptions_bound_total: Counter of bound subscriptions
//   - scopebind_subscriptions_released_total: Counter of releases by reason
//   - scopebind_subscriptions_active: Gauge of bound, unreleased subscriptions
//
// A steadily growing scopebind_subscriptions_active is the signature of a
// dependent that is never destroyed.
//
// Example:
//
//	m := telemetry.Prometheus(telemetry.WithNamespace("myapp"))
//	root := scope.NewRoot(scope.WithObserver(m))
//	binder := bind.New(reporter, bind.WithObserver(m))
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	dispatchLabels := []string{"direction", "event"}

	return &Metrics{
		eventLabels: config.EventLabels,

		dispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatches_total",
			Help:        "Total number of emits and broadcasts",
			ConstLabels: config.ConstLabels,
		}, dispatchLabels),

		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "deliveries_total",
			Help:        "Total number of listener invocations",
			ConstLabels: config.ConstLabels,
		}, dispatchLabels),

		handlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_failures_total",
			Help:        "Total number of listener panics recovered during dispatch",
			ConstLabels: config.ConstLabels,
		}, dispatchLabels),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"direction"}),

		nodesDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_destroyed_total",
			Help:        "Total number of destroyed scope nodes",
			ConstLabels: config.ConstLabels,
		}),

		subscriptionsBound: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriptions_bound_total",
			Help:        "Total number of listeners bound to a dependent's lifetime",
			ConstLabels: config.ConstLabels,
		}),

		subscriptionsFreed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriptions_released_total",
			Help:        "Total number of bound listeners released, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		subscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriptions_active",
			Help:        "Number of bound listeners not yet released",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// metricsSpan times one dispatch.
type metricsSpan struct {
	m         *Metrics
	direction string
	event     string
	start     time.Time
}

// BeginDispatch implements scope.Observer.
func (m *Metrics) BeginDispatch(e *scope.Event) scope.DispatchSpan {
	event := e.Name
	if !m.eventLabels {
		event = "*"
	}
	direction := e.Direction.String()
	m.dispatchesTotal.WithLabelValues(direction, event).Inc()
	return &metricsSpan{m: m, direction: direction, event: event, start: time.Now()}
}

// NodeDestroyed implements scope.Observer.
func (m *Metrics) NodeDestroyed(*scope.Node) {
	m.nodesDestroyed.Inc()
}

// HandlerFailed implements scope.DispatchSpan.
func (s *metricsSpan) HandlerFailed(error) {
	s.m.handlerFailures.WithLabelValues(s.direction, s.event).Inc()
}

// End implements scope.DispatchSpan.
func (s *metricsSpan) End(delivered int) {
	s.m.dispatchDuration.WithLabelValues(s.direction).Observe(time.Since(s.start).Seconds())
	if delivered > 0 {
		s.m.deliveriesTotal.WithLabelValues(s.direction, s.event).Add(float64(delivered))
	}
}

// Bound implements bind.Observer.
func (m *Metrics) Bound(string) {
	m.subscriptionsBound.Inc()
	m.subscriptionsActive.Inc()
}

// Released implements bind.Observer.
func (m *Metrics) Released(_ string, reason bind.ReleaseReason) {
	m.subscriptionsFreed.WithLabelValues(reason.String()).Inc()
	m.subscriptionsActive.Dec()
}
