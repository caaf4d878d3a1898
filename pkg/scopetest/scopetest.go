// Package scopetest provides testing helpers for code built on scope nodes.
//
// A Recorder stands in for the error-reporting collaborator so tests can
// assert on absorbed failures, and a Calls value records handler
// invocations:
//
//	rec := scopetest.NewRecorder()
//	root := scope.NewRoot(scope.WithReporter(rec))
//	calls := scopetest.NewCalls()
//	root.On("ping", calls.Handler())
//	root.Emit("ping", 1)
//	scopetest.ExpectPayloads(t, calls, 1)
package scopetest

import (
	"reflect"
	"sync"
	"testing"

	"github.com/vango-dev/scopebind/pkg/scope"
)

// Report is one recorded call to Reporter.Report.
type Report struct {
	Message string
	Context scope.ReportContext
}

// Recorder is a scope.Reporter that keeps every report.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Report implements scope.Reporter.
func (r *Recorder) Report(message string, ctx scope.ReportContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Message: message, Context: ctx})
}

// Reports returns a copy of the recorded reports.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

// Len returns the number of recorded reports.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// Reset drops all recorded reports.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = nil
}

// Calls records the payloads a handler was invoked with.
type Calls struct {
	mu       sync.Mutex
	payloads []any
}

// NewCalls creates an empty Calls.
func NewCalls() *Calls {
	return &Calls{}
}

// Handler returns a scope.Handler that records into c.
func (c *Calls) Handler() scope.Handler {
	return func(e *scope.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.payloads = append(c.payloads, e.Payload)
	}
}

// Count returns the number of invocations.
func (c *Calls) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

// Payloads returns a copy of the recorded payloads.
func (c *Calls) Payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.payloads...)
}

// ExpectPayloads fails the test unless c saw exactly want, in order.
func ExpectPayloads(t testing.TB, c *Calls, want ...any) {
	t.Helper()
	got := c.Payloads()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("payloads = %v, want %v", got, want)
	}
}

// ExpectNoLeaks fails the test if node or any descendant still holds
// listeners.
func ExpectNoLeaks(t testing.TB, node *scope.Node) {
	t.Helper()
	if n := node.TotalListenerCount(); n != 0 {
		t.Errorf("%s holds %d listeners, want 0", node, n)
	}
}
