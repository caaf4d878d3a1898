package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
)

// RootID is the name of the implicit root node.
const RootID = "root"

// Options configures Run.
type Options struct {
	// Policy is the binder's destroyed-source policy.
	Policy bind.DestroyedSourcePolicy

	// Logger receives reported errors in addition to the transcript.
	// Nil discards them.
	Logger *slog.Logger

	// Observers are attached to the scenario's root.
	Observers []scope.Observer

	// BindObservers are attached to the scenario's binder.
	BindObservers []bind.Observer
}

// Result is the outcome of a script run.
type Result struct {
	Name       string
	Transcript []string
	Failures   []error
	Reports    []string

	// Root is the scenario's tree in its final state.
	Root *scope.Node
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

type recorder struct {
	calls    int
	payloads []any
}

type runner struct {
	script   *Script
	binder   *bind.Binder
	nodes    map[string]*scope.Node
	handlers map[string]*recorder
	unregs   map[string]scope.Unregister
	result   *Result
	step     *Step
	index    int
}

// Run executes the script's steps in order. Malformed steps (unknown node or
// subscription names) stop the run with an error; failed expectations are
// collected in the Result and the run continues.
func Run(ctx context.Context, s *Script, opts Options) (*Result, error) {
	r := &runner{
		script:   s,
		nodes:    make(map[string]*scope.Node),
		handlers: make(map[string]*recorder),
		unregs:   make(map[string]scope.Unregister),
		result:   &Result{Name: s.Name},
	}

	reporter := scope.ReporterFunc(func(message string, rc scope.ReportContext) {
		line := message
		if rc.EventName != "" {
			line += " (event=" + rc.EventName + ")"
		}
		r.result.Reports = append(r.result.Reports, line)
		r.logf("report: %s", line)
		if opts.Logger != nil {
			opts.Logger.Error(message, "error", rc.Err, "event", rc.EventName, "scenario", s.Name)
		}
	})

	rootOpts := []scope.Option{scope.WithName(RootID), scope.WithReporter(reporter)}
	for _, o := range opts.Observers {
		rootOpts = append(rootOpts, scope.WithObserver(o))
	}
	root := scope.NewRoot(rootOpts...)
	r.nodes[RootID] = root
	r.result.Root = root

	bindOpts := []bind.Option{bind.WithDestroyedSourcePolicy(opts.Policy)}
	for _, o := range opts.BindObservers {
		bindOpts = append(bindOpts, bind.WithObserver(o))
	}
	r.binder = bind.New(reporter, bindOpts...)

	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}
		r.step = &s.Steps[i]
		r.index = i + 1
		if err := r.exec(); err != nil {
			return r.result, err
		}
	}
	return r.result, nil
}

func (r *runner) exec() error {
	s := r.step
	switch {
	case s.Node != nil:
		return r.execNode(s.Node)
	case s.On != nil:
		return r.execOn(s.On)
	case s.Bind != nil:
		return r.execBind(s.Bind)
	case s.Emit != nil:
		return r.execDispatch(s.Emit, false)
	case s.Broadcast != nil:
		return r.execDispatch(s.Broadcast, true)
	case s.Destroy != "":
		n, err := r.node(s.Destroy)
		if err != nil {
			return err
		}
		n.Destroy()
		r.logf("destroy %s", s.Destroy)
	case s.Unregister != "":
		unreg, ok := r.unregs[s.Unregister]
		if !ok {
			return r.fail("E304").WithDetailf("%q", s.Unregister)
		}
		unreg()
		r.logf("unregister %s", s.Unregister)
	case s.Expect != nil:
		r.execExpect(s.Expect)
	case s.ExpectListeners != nil:
		return r.execExpectListeners(s.ExpectListeners)
	case s.ExpectCallbacks != nil:
		n, err := r.node(s.ExpectCallbacks.Node)
		if err != nil {
			return err
		}
		r.check(n.DestroyCallbackCount() == s.ExpectCallbacks.Count,
			"%s has %d destroy callbacks, want %d", s.ExpectCallbacks.Node, n.DestroyCallbackCount(), s.ExpectCallbacks.Count)
	case s.ExpectReports != nil:
		got := len(r.result.Reports)
		r.check(got == s.ExpectReports.Count, "%d errors reported, want %d", got, s.ExpectReports.Count)
	case s.Panic != nil:
		return r.execPanic(s.Panic)
	}
	return nil
}

func (r *runner) execNode(ns *NodeStep) error {
	if ns.ID == "" {
		return r.fail("E303").WithDetail("node: id is required")
	}
	if _, dup := r.nodes[ns.ID]; dup {
		return r.fail("E302").WithDetailf("node %q", ns.ID)
	}
	parentID := ns.Parent
	if parentID == "" {
		parentID = RootID
	}
	parent, err := r.node(parentID)
	if err != nil {
		return err
	}
	r.nodes[ns.ID] = scope.NewNode(parent, scope.WithName(ns.ID))
	r.logf("node %s under %s", ns.ID, parentID)
	return nil
}

func (r *runner) recorderFor(name string, stop bool) scope.Handler {
	rec, ok := r.handlers[name]
	if !ok {
		rec = &recorder{}
		r.handlers[name] = rec
	}
	return func(e *scope.Event) {
		rec.calls++
		rec.payloads = append(rec.payloads, e.Payload)
		if stop {
			e.StopPropagation()
		}
	}
}

func (r *runner) remember(as string, unreg scope.Unregister) error {
	if as == "" {
		return nil
	}
	if _, dup := r.unregs[as]; dup {
		return r.fail("E302").WithDetailf("subscription %q", as)
	}
	r.unregs[as] = unreg
	return nil
}

func (r *runner) execOn(on *OnStep) error {
	n, err := r.node(on.Node)
	if err != nil {
		return err
	}
	h := r.recorderFor(on.Handler, on.Stop)
	var unreg scope.Unregister
	if on.Once {
		unreg = n.Once(on.Event, h)
	} else {
		unreg = n.On(on.Event, h)
	}
	r.logf("on %s %q -> %s", on.Node, on.Event, on.Handler)
	return r.remember(on.As, unreg)
}

func (r *runner) execBind(bs *BindStep) error {
	dep, err := r.node(bs.Dependent)
	if err != nil {
		return err
	}
	srcID := bs.Source
	if srcID == "" {
		srcID = RootID
	}
	src, err := r.node(srcID)
	if err != nil {
		return err
	}

	unreg, bindErr := r.binder.BindDependentListener(dep, bs.Event, r.recorderFor(bs.Handler, false), src)
	if bindErr != nil {
		r.logf("bind %s to %s %q -> %s: %v", bs.Dependent, srcID, bs.Event, bs.Handler, bindErr)
	} else {
		r.logf("bind %s to %s %q -> %s", bs.Dependent, srcID, bs.Event, bs.Handler)
	}
	r.check((bindErr != nil) == bs.WantErr, "bind error = %v, wantErr %v", bindErr, bs.WantErr)
	return r.remember(bs.As, unreg)
}

func (r *runner) execDispatch(ds *DispatchStep, broadcast bool) error {
	n, err := r.node(ds.Node)
	if err != nil {
		return err
	}
	var e *scope.Event
	if broadcast {
		e = n.Broadcast(ds.Event, ds.Payload)
	} else {
		e = n.Emit(ds.Event, ds.Payload)
	}
	r.logf("%s %q from %s: delivered %d", e.Direction, ds.Event, ds.Node, e.Delivered())
	if ds.Delivered != nil {
		r.check(e.Delivered() == *ds.Delivered, "%s %q delivered %d, want %d", e.Direction, ds.Event, e.Delivered(), *ds.Delivered)
	}
	return nil
}

func (r *runner) execExpect(es *ExpectStep) {
	rec := r.handlers[es.Handler]
	if rec == nil {
		rec = &recorder{}
	}
	if es.Calls != nil {
		r.check(rec.calls == *es.Calls, "handler %s called %d times, want %d", es.Handler, rec.calls, *es.Calls)
	}
	if es.Payloads != nil {
		r.check(payloadsEqual(rec.payloads, es.Payloads), "handler %s payloads = %v, want %v", es.Handler, rec.payloads, es.Payloads)
	}
}

func payloadsEqual(got, want []any) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !reflect.DeepEqual(got[i], want[i]) {
			return false
		}
	}
	return true
}

func (r *runner) execExpectListeners(es *ExpectListenersStep) error {
	n, err := r.node(es.Node)
	if err != nil {
		return err
	}
	if es.Event == "" {
		got := n.TotalListenerCount()
		r.check(got == es.Count, "%s subtree has %d listeners, want %d", es.Node, got, es.Count)
		return nil
	}
	got := n.ListenerCount(es.Event)
	r.check(got == es.Count, "%s has %d %q listeners, want %d", es.Node, got, es.Event, es.Count)
	return nil
}

func (r *runner) execPanic(ps *PanicStep) error {
	n, err := r.node(ps.Node)
	if err != nil {
		return err
	}
	value := ps.Value
	if value == "" {
		value = "scenario panic"
	}
	n.On(ps.Event, func(*scope.Event) { panic(value) })
	r.logf("panic handler on %s %q", ps.Node, ps.Event)
	return nil
}

func (r *runner) node(id string) (*scope.Node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, r.fail("E301").WithDetailf("node %q is not declared", id)
	}
	return n, nil
}

// fail builds a coded error located at the current step.
func (r *runner) fail(code string) *errors.ScopeError {
	return errors.New(code).WithLocation(r.script.File, r.step.Line, r.step.Column)
}

func (r *runner) check(ok bool, format string, args ...any) {
	if ok {
		r.logf("ok %s", r.step.Op())
		return
	}
	msg := fmt.Sprintf(format, args...)
	r.result.Failures = append(r.result.Failures, r.fail("E305").WithDetail(msg))
	r.logf("FAIL %s", msg)
}

func (r *runner) logf(format string, args ...any) {
	prefix := fmt.Sprintf("[%d] ", r.index)
	r.result.Transcript = append(r.result.Transcript, prefix+fmt.Sprintf(format, args...))
}

// String renders the transcript followed by a summary line.
func (r *Result) String() string {
	var b strings.Builder
	for _, line := range r.Transcript {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if r.Passed() {
		fmt.Fprintf(&b, "PASS %s\n", r.Name)
	} else {
		fmt.Fprintf(&b, "FAIL %s (%d failed)\n", r.Name, len(r.Failures))
	}
	return b.String()
}
