package scopetest

import (
	"errors"
	"testing"

	"github.com/vango-dev/scopebind/pkg/scope"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	cause := errors.New("boom")

	rec.Report("failed", scope.ReportContext{Err: cause, EventName: "ping"})

	if rec.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rec.Len())
	}
	got := rec.Reports()[0]
	if got.Message != "failed" || got.Context.EventName != "ping" || got.Context.Err != cause {
		t.Errorf("report = %+v", got)
	}

	rec.Reset()
	if rec.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", rec.Len())
	}
}

func TestCalls(t *testing.T) {
	root := scope.NewRoot()
	calls := NewCalls()
	root.On("ping", calls.Handler())

	root.Emit("ping", 1)
	root.Emit("ping", "two")

	if calls.Count() != 2 {
		t.Errorf("Count() = %d, want 2", calls.Count())
	}
	ExpectPayloads(t, calls, 1, "two")
}

func TestExpectNoLeaks(t *testing.T) {
	root := scope.NewRoot()
	child := scope.NewNode(root)
	off := child.On("ping", func(*scope.Event) {})

	off()

	ExpectNoLeaks(t, root)
}
