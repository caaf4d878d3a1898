package telemetry

import (
	"context"
	"fmt"

	"github.com/vango-dev/scopebind/pkg/scope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for scopebind dispatches.
const defaultTracerName = "scopebind"

// TracingConfig configures the OpenTelemetry observer.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "scopebind").
	TracerName string

	// Provider is the tracer provider. Default: otel.GetTracerProvider().
	Provider trace.TracerProvider

	// Filter decides which events are traced. If nil, all are.
	Filter func(e *scope.Event) bool
}

// TracingOption configures the OpenTelemetry observer.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConfig) {
		c.Provider = tp
	}
}

// WithEventFilter sets a filter for traced events.
func WithEventFilter(filter func(e *scope.Event) bool) TracingOption {
	return func(c *TracingConfig) {
		c.Filter = filter
	}
}

// Tracer emits one span per dispatch. It implements scope.Observer.
type Tracer struct {
	tracer trace.Tracer
	filter func(e *scope.Event) bool
}

var _ scope.Observer = (*Tracer)(nil)

// OpenTelemetry creates a Tracer.
//
// Each emit or broadcast gets a span named "scopebind.<direction> <event>"
// with the target node, direction and delivered count as attributes.
// Recovered listener panics are recorded as span errors.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before building
// the tree:
//
//	otel.SetTracerProvider(tp)
//	root := scope.NewRoot(scope.WithObserver(telemetry.OpenTelemetry()))
func OpenTelemetry(opts ...TracingOption) *Tracer {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}

	provider := config.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &Tracer{
		tracer: provider.Tracer(config.TracerName),
		filter: config.Filter,
	}
}

// BeginDispatch implements scope.Observer.
func (t *Tracer) BeginDispatch(e *scope.Event) scope.DispatchSpan {
	if t.filter != nil && !t.filter(e) {
		return nil
	}

	_, span := t.tracer.Start(
		context.Background(),
		fmt.Sprintf("scopebind.%s %s", e.Direction, e.Name),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("scopebind.event", e.Name),
			attribute.String("scopebind.direction", e.Direction.String()),
			attribute.Int64("scopebind.target_id", int64(e.Target.ID())),
			attribute.String("scopebind.target", e.Target.String()),
		),
	)
	return &tracingSpan{span: span}
}

// NodeDestroyed implements scope.Observer.
func (t *Tracer) NodeDestroyed(*scope.Node) {}

type tracingSpan struct {
	span     trace.Span
	failures int
}

// HandlerFailed implements scope.DispatchSpan.
func (s *tracingSpan) HandlerFailed(err error) {
	s.failures++
	s.span.RecordError(err)
}

// End implements scope.DispatchSpan.
func (s *tracingSpan) End(delivered int) {
	s.span.SetAttributes(
		attribute.Int("scopebind.delivered", delivered),
		attribute.Int("scopebind.failures", s.failures),
	)
	if s.failures > 0 {
		s.span.SetStatus(codes.Error, fmt.Sprintf("%d listener(s) panicked", s.failures))
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
