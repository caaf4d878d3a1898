package scope

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestOnAndUnregister(t *testing.T) {
	node := NewRoot()

	calls := 0
	off := node.On("ping", func(*Event) { calls++ })

	node.Emit("ping", nil)
	off()
	off()
	node.Emit("ping", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if node.ListenerCount("ping") != 0 {
		t.Errorf("ListenerCount() = %d, want 0", node.ListenerCount("ping"))
	}
}

func TestUnregisterRemovesOnlyItsHandler(t *testing.T) {
	node := NewRoot()

	var got []string
	node.On("ping", func(*Event) { got = append(got, "a") })
	offB := node.On("ping", func(*Event) { got = append(got, "b") })
	node.On("ping", func(*Event) { got = append(got, "c") })

	offB()
	offB()
	node.Emit("ping", nil)

	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("got = %v, want [a c]", got)
	}
}

func TestSameHandlerRegisteredTwice(t *testing.T) {
	node := NewRoot()

	calls := 0
	h := func(*Event) { calls++ }
	off1 := node.On("ping", h)
	node.On("ping", h)

	off1()
	node.Emit("ping", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (each registration is independent)", calls)
	}
}

func TestSubscribeErrors(t *testing.T) {
	node := NewRoot()

	if _, err := node.Subscribe("ping", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("nil handler: err = %v, want ErrNilHandler", err)
	}

	node.Destroy()
	off, err := node.Subscribe("ping", func(*Event) {})
	if !errors.Is(err, ErrNodeDestroyed) {
		t.Errorf("destroyed node: err = %v, want ErrNodeDestroyed", err)
	}
	if off == nil {
		t.Fatal("Subscribe should always return a callable Unregister")
	}
	off()
}

func TestOnDestroyedNodeIsNoop(t *testing.T) {
	node := NewRoot()
	node.Destroy()

	off := node.On("ping", func(*Event) { t.Error("handler must never run") })
	off()

	if node.ListenerCount("ping") != 0 {
		t.Error("nothing should be registered on a destroyed node")
	}
}

func TestOnce(t *testing.T) {
	node := NewRoot()

	var payloads []any
	node.Once("ping", func(e *Event) { payloads = append(payloads, e.Payload) })

	node.Emit("ping", 1)
	node.Emit("ping", 2)

	if len(payloads) != 1 || payloads[0] != 1 {
		t.Errorf("payloads = %v, want [1]", payloads)
	}
	if node.ListenerCount("ping") != 0 {
		t.Error("Once listener should remove itself")
	}
}

func TestOnceReentrantEmit(t *testing.T) {
	node := NewRoot()

	calls := 0
	node.Once("ping", func(*Event) { calls++ })
	node.On("ping", func(e *Event) {
		if e.Payload == 1 {
			node.Emit("ping", 2)
		}
	})

	// The nested emit happens after the Once listener removed itself.
	node.Emit("ping", 1)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnceConcurrentEmit(t *testing.T) {
	for round := 0; round < 50; round++ {
		node := NewRoot()

		var calls atomic.Int32
		node.Once("ping", func(*Event) { calls.Add(1) })

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node.Emit("ping", nil)
			}()
		}
		wg.Wait()

		if got := calls.Load(); got != 1 {
			t.Fatalf("round %d: calls = %d, want 1", round, got)
		}
		if node.ListenerCount("ping") != 0 {
			t.Fatalf("round %d: Once listener still registered", round)
		}
	}
}

func TestOnceOnDestroyedNode(t *testing.T) {
	node := NewRoot()
	node.Destroy()

	off := node.Once("ping", func(*Event) { t.Error("handler ran on destroyed node") })
	off()
	node.Emit("ping", nil)
	if node.ListenerCount("ping") != 0 {
		t.Error("nothing should be registered on a destroyed node")
	}
}

func TestTotalListenerCountAndEventNames(t *testing.T) {
	root := NewRoot()
	child := NewNode(root)

	root.On("b", func(*Event) {})
	root.On("a", func(*Event) {})
	child.On("a", func(*Event) {})

	if got := root.TotalListenerCount(); got != 3 {
		t.Errorf("TotalListenerCount() = %d, want 3", got)
	}
	names := root.EventNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("EventNames() = %v, want [a b]", names)
	}
}
