package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestPrometheusDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg))

	root := scope.NewRoot(scope.WithObserver(m), scope.WithReporter(scope.NopReporter))
	child := scope.NewNode(root)
	root.On("ping", func(*scope.Event) {})
	child.On("ping", func(*scope.Event) { panic("boom") })

	child.Emit("ping", nil)
	root.Broadcast("ping", nil)
	root.Destroy()

	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("emit", "ping")); got != 1 {
		t.Errorf("emit dispatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("broadcast", "ping")); got != 2 {
		t.Errorf("broadcast deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.handlerFailures.WithLabelValues("emit", "ping")); got != 1 {
		t.Errorf("emit failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.nodesDestroyed); got != 2 {
		t.Errorf("nodes destroyed = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.dispatchDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestPrometheusWithoutEventLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg), WithEventLabels(false), WithNamespace("test"))

	root := scope.NewRoot(scope.WithObserver(m))
	root.Emit("a", nil)
	root.Emit("b", nil)

	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("emit", "*")); got != 2 {
		t.Errorf("dispatches = %v, want 2", got)
	}
}

func TestPrometheusSubscriptionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg))
	b := bind.New(scope.NopReporter, bind.WithObserver(m))

	root := scope.NewRoot()
	h := func(*scope.Event) {}
	a := scope.NewNode(root)
	c := scope.NewNode(root)
	b.BindDependentListener(a, "x", h, root)
	b.BindDependentListener(c, "x", h, root)

	if got := testutil.ToFloat64(m.subscriptionsActive); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}

	a.Destroy()

	if got := testutil.ToFloat64(m.subscriptionsActive); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.subscriptionsFreed.WithLabelValues("dependent_destroyed")); got != 1 {
		t.Errorf("released[dependent_destroyed] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.subscriptionsBound); got != 2 {
		t.Errorf("bound = %v, want 2", got)
	}
}

// recordingProvider captures spans started through it.
type recordingProvider struct {
	noop.TracerProvider
	spans *[]*recordingSpan
}

func (p recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return recordingTracer{spans: p.spans}
}

type recordingTracer struct {
	noop.Tracer
	spans *[]*recordingSpan
}

func (t recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, attrs: cfg.Attributes()}
	*t.spans = append(*t.spans, s)
	return ctx, s
}

type recordingSpan struct {
	noop.Span
	name   string
	attrs  []attribute.KeyValue
	errs   []error
	status codes.Code
	ended  bool
}

func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) { s.errs = append(s.errs, err) }
func (s *recordingSpan) SetStatus(c codes.Code, _ string)              { s.status = c }
func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue)        { s.attrs = append(s.attrs, kv...) }
func (s *recordingSpan) End(...trace.SpanEndOption)                    { s.ended = true }

func (s *recordingSpan) attr(key string) (attribute.Value, bool) {
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOpenTelemetrySpans(t *testing.T) {
	var spans []*recordingSpan
	tr := OpenTelemetry(WithTracerProvider(recordingProvider{spans: &spans}))

	root := scope.NewRoot(scope.WithObserver(tr), scope.WithReporter(scope.NopReporter))
	root.On("ok", func(*scope.Event) {})
	root.On("bad", func(*scope.Event) { panic("boom") })

	root.Emit("ok", nil)
	root.Broadcast("bad", nil)

	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}

	ok := spans[0]
	if ok.name != "scopebind.emit ok" {
		t.Errorf("name = %q", ok.name)
	}
	if !ok.ended || ok.status != codes.Ok {
		t.Errorf("ok span ended=%v status=%v", ok.ended, ok.status)
	}
	if v, found := ok.attr("scopebind.delivered"); !found || v.AsInt64() != 1 {
		t.Errorf("delivered attr = %v, %v", v, found)
	}

	bad := spans[1]
	if bad.status != codes.Error || len(bad.errs) != 1 {
		t.Errorf("bad span status=%v errs=%d", bad.status, len(bad.errs))
	}
}

func TestOpenTelemetryFilter(t *testing.T) {
	var spans []*recordingSpan
	tr := OpenTelemetry(
		WithTracerProvider(recordingProvider{spans: &spans}),
		WithEventFilter(func(e *scope.Event) bool { return e.Name != "noisy" }),
	)

	root := scope.NewRoot(scope.WithObserver(tr))
	root.Emit("noisy", nil)
	root.Emit("quiet", nil)

	if len(spans) != 1 || spans[0].name != "scopebind.emit quiet" {
		t.Errorf("spans = %v", spans)
	}
}
