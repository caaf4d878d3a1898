package scope

import (
	"errors"
	"testing"
)

func TestEmitInvokesHandlerOnce(t *testing.T) {
	root := NewRoot()

	var got []any
	root.On("ping", func(e *Event) { got = append(got, e.Payload) })

	root.Emit("ping", 1)

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got = %v, want [1]", got)
	}
}

func TestEmitBubblesToRoot(t *testing.T) {
	root := NewRoot()
	mid := NewNode(root)
	leaf := NewNode(mid)
	other := NewNode(root)

	var order []string
	root.On("ping", func(e *Event) {
		order = append(order, "root")
		if e.Current != root || e.Target != leaf {
			t.Error("Current/Target mismatch at root")
		}
	})
	mid.On("ping", func(*Event) { order = append(order, "mid") })
	leaf.On("ping", func(*Event) { order = append(order, "leaf") })
	other.On("ping", func(*Event) { order = append(order, "other") })

	e := leaf.Emit("ping", nil)

	want := []string{"leaf", "mid", "root"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if e.Delivered() != 3 {
		t.Errorf("Delivered() = %d, want 3", e.Delivered())
	}
	if e.Current != nil {
		t.Error("Current should be nil after dispatch")
	}
}

func TestEmitStopPropagation(t *testing.T) {
	root := NewRoot()
	child := NewNode(root)

	var order []string
	child.On("ping", func(e *Event) {
		order = append(order, "child-1")
		e.StopPropagation()
	})
	child.On("ping", func(*Event) { order = append(order, "child-2") })
	root.On("ping", func(*Event) { order = append(order, "root") })

	e := child.Emit("ping", nil)

	if len(order) != 2 || order[0] != "child-1" || order[1] != "child-2" {
		t.Errorf("order = %v, want [child-1 child-2]", order)
	}
	if !e.PropagationStopped() {
		t.Error("PropagationStopped() should be true")
	}
}

func TestBroadcastReachesDescendantsInOrder(t *testing.T) {
	root := NewRoot()
	a := NewNode(root)
	a1 := NewNode(a)
	b := NewNode(root)

	var order []string
	record := func(name string) Handler {
		return func(e *Event) {
			order = append(order, name)
			e.StopPropagation()
		}
	}
	root.On("tick", record("root"))
	a.On("tick", record("a"))
	a1.On("tick", record("a1"))
	b.On("tick", record("b"))

	e := root.Broadcast("tick", nil)

	want := []string{"root", "a", "a1", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if e.PropagationStopped() {
		t.Error("broadcasts cannot be stopped")
	}
}

func TestBroadcastDoesNotReachAncestors(t *testing.T) {
	root := NewRoot()
	child := NewNode(root)

	root.On("tick", func(*Event) { t.Error("ancestor should not receive a broadcast") })
	child.Broadcast("tick", nil)
}

func TestDispatchWithoutListeners(t *testing.T) {
	root := NewRoot()
	NewNode(root)

	if e := root.Emit("nothing", nil); e.Delivered() != 0 {
		t.Errorf("Emit Delivered() = %d, want 0", e.Delivered())
	}
	if e := root.Broadcast("nothing", nil); e.Delivered() != 0 {
		t.Errorf("Broadcast Delivered() = %d, want 0", e.Delivered())
	}
}

func TestDispatchOnDestroyedNode(t *testing.T) {
	root := NewRoot()
	child := NewNode(root)

	calls := 0
	root.On("ping", func(*Event) { calls++ })
	child.Destroy()

	child.Emit("ping", nil)
	child.Broadcast("ping", nil)

	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDispatchUsesSnapshot(t *testing.T) {
	root := NewRoot()

	var order []string
	var offB Unregister
	root.On("ping", func(*Event) {
		order = append(order, "a")
		offB()
		root.On("ping", func(*Event) { order = append(order, "late") })
	})
	offB = root.On("ping", func(*Event) { order = append(order, "b") })

	root.Emit("ping", nil)

	// b was in the snapshot; late was added during dispatch.
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("first dispatch = %v, want [a b]", order)
	}

	order = nil
	root.Emit("ping", nil)
	if len(order) != 2 || order[0] != "a" || order[1] != "late" {
		t.Errorf("second dispatch = %v, want [a late]", order)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	log := &reportLog{}
	root := NewRoot(WithReporter(log))
	child := NewNode(root)

	var order []string
	child.On("ping", func(*Event) { panic("first") })
	child.On("ping", func(*Event) { order = append(order, "child") })
	root.On("ping", func(*Event) { order = append(order, "root") })

	child.Emit("ping", nil)

	if len(order) != 2 || order[0] != "child" || order[1] != "root" {
		t.Errorf("order = %v, want [child root]", order)
	}
	if log.len() != 1 {
		t.Fatalf("reports = %d, want 1", log.len())
	}
	entry := log.entries[0]
	if entry.ctx.EventName != "ping" {
		t.Errorf("EventName = %q, want %q", entry.ctx.EventName, "ping")
	}
	var hpe *HandlerPanicError
	if !errors.As(entry.ctx.Err, &hpe) || hpe.NodeID != child.ID() || hpe.Value != "first" {
		t.Errorf("reported error = %#v", entry.ctx.Err)
	}
}

func TestHandlerPanicWithErrorUnwraps(t *testing.T) {
	log := &reportLog{}
	root := NewRoot(WithReporter(log))
	cause := errors.New("cause")
	root.On("ping", func(*Event) { panic(cause) })

	root.Broadcast("ping", nil)

	if log.len() != 1 || !errors.Is(log.entries[0].ctx.Err, cause) {
		t.Errorf("reported error should unwrap to cause, got %v", log.entries)
	}
}

func TestPreventDefault(t *testing.T) {
	root := NewRoot()
	root.On("save", func(e *Event) { e.PreventDefault() })

	if !root.Emit("save", nil).DefaultPrevented() {
		t.Error("DefaultPrevented() should be true")
	}
	if root.Emit("other", nil).DefaultPrevented() {
		t.Error("DefaultPrevented() should be false without listeners")
	}
}

func TestHandlerDestroysNodeDuringBroadcast(t *testing.T) {
	root := NewRoot()
	a := NewNode(root)
	b := NewNode(root)

	calls := 0
	root.On("tick", func(*Event) { a.Destroy() })
	a.On("tick", func(*Event) { calls++ })
	b.On("tick", func(*Event) { calls++ })

	root.Broadcast("tick", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (destroyed subtree is skipped)", calls)
	}
}

type recordingObserver struct {
	begun     []string
	failures  int
	ended     []int
	destroyed []uint64
}

type recordingSpan struct{ o *recordingObserver }

func (o *recordingObserver) BeginDispatch(e *Event) DispatchSpan {
	o.begun = append(o.begun, e.Direction.String()+":"+e.Name)
	return recordingSpan{o}
}

func (o *recordingObserver) NodeDestroyed(n *Node) {
	o.destroyed = append(o.destroyed, n.ID())
}

func (s recordingSpan) HandlerFailed(error) { s.o.failures++ }
func (s recordingSpan) End(delivered int)   { s.o.ended = append(s.o.ended, delivered) }

func TestObserverSeesDispatchesAndDestroys(t *testing.T) {
	obs := &recordingObserver{}
	root := NewRoot(WithObserver(obs), WithReporter(NopReporter))
	child := NewNode(root)

	root.On("ping", func(*Event) {})
	child.On("ping", func(*Event) { panic("x") })

	child.Emit("ping", nil)
	root.Broadcast("ping", nil)
	root.Destroy()

	if len(obs.begun) != 2 || obs.begun[0] != "emit:ping" || obs.begun[1] != "broadcast:ping" {
		t.Errorf("begun = %v", obs.begun)
	}
	if obs.failures != 2 {
		t.Errorf("failures = %d, want 2", obs.failures)
	}
	if len(obs.ended) != 2 || obs.ended[0] != 2 || obs.ended[1] != 2 {
		t.Errorf("ended = %v, want [2 2]", obs.ended)
	}
	if len(obs.destroyed) != 2 || obs.destroyed[0] != child.ID() || obs.destroyed[1] != root.ID() {
		t.Errorf("destroyed = %v, want [child root]", obs.destroyed)
	}
}
