package scope

import (
	"sort"
	"sync/atomic"
)

// Handler is a listener invoked with the event being dispatched.
type Handler func(e *Event)

// Unregister removes a registration. Calling it more than once is a no-op.
type Unregister func()

// Nop is an Unregister that does nothing.
func Nop() {}

// listener is one entry in a node's listener table. removed is guarded by
// the owning node's mu.
type listener struct {
	handler Handler
	removed bool
}

// On registers handler for event and returns a function that removes it.
//
// Handlers for the same event run in registration order. If the node is
// destroyed or handler is nil, nothing is registered and a no-op
// Unregister is returned.
func (n *Node) On(event string, handler Handler) Unregister {
	off, err := n.Subscribe(event, handler)
	if err != nil {
		return Nop
	}
	return off
}

// Subscribe is like On but reports why nothing was registered.
func (n *Node) Subscribe(event string, handler Handler) (Unregister, error) {
	if handler == nil {
		return Nop, ErrNilHandler
	}
	l := &listener{handler: handler}
	if err := n.addListener(event, l); err != nil {
		return Nop, err
	}
	return func() { n.removeListener(event, l) }, nil
}

// addListener appends l to event's list unless the node is destroyed.
func (n *Node) addListener(event string, l *listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed.Load() {
		return ErrNodeDestroyed
	}
	if n.listeners == nil {
		n.listeners = make(map[string][]*listener)
	}
	n.listeners[event] = append(n.listeners[event], l)
	return nil
}

// Once registers handler to run on the next matching event only.
// The registration is removed before handler runs.
func (n *Node) Once(event string, handler Handler) Unregister {
	if handler == nil {
		return Nop
	}
	var fired atomic.Bool
	l := &listener{}
	off := func() { n.removeListener(event, l) }
	// handler is set before l is published, so a concurrent Emit never
	// sees a partly built listener.
	l.handler = func(e *Event) {
		if fired.Swap(true) {
			return
		}
		off()
		handler(e)
	}
	if err := n.addListener(event, l); err != nil {
		return Nop
	}
	return off
}

func (n *Node) removeListener(event string, l *listener) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if l.removed {
		return
	}
	l.removed = true

	list := n.listeners[event]
	for i, cur := range list {
		if cur == l {
			// Build a fresh slice so snapshots taken by in-flight
			// dispatches keep their contents.
			next := make([]*listener, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(n.listeners, event)
			} else {
				n.listeners[event] = next
			}
			return
		}
	}
}

// snapshot returns the handlers registered for event at call time.
func (n *Node) snapshot(event string) []Handler {
	n.mu.Lock()
	defer n.mu.Unlock()

	list := n.listeners[event]
	if len(list) == 0 {
		return nil
	}
	handlers := make([]Handler, len(list))
	for i, l := range list {
		handlers[i] = l.handler
	}
	return handlers
}

// ListenerCount returns the number of listeners registered for event on
// this node only.
func (n *Node) ListenerCount(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[event])
}

// TotalListenerCount returns the number of listeners registered on this
// node and all of its descendants, across all events.
func (n *Node) TotalListenerCount() int {
	n.mu.Lock()
	total := 0
	for _, list := range n.listeners {
		total += len(list)
	}
	children := append([]*Node(nil), n.children...)
	n.mu.Unlock()

	for _, child := range children {
		total += child.TotalListenerCount()
	}
	return total
}

// EventNames returns the sorted names of events with listeners on this node.
func (n *Node) EventNames() []string {
	n.mu.Lock()
	names := make([]string, 0, len(n.listeners))
	for name := range n.listeners {
		names = append(names, name)
	}
	n.mu.Unlock()

	sort.Strings(names)
	return names
}
