package scope

import "runtime/debug"

// Direction is the way an event travels through the tree.
type Direction uint8

const (
	// DirectionEmit travels from the target toward the root.
	DirectionEmit Direction = iota + 1

	// DirectionBroadcast travels from the target to every descendant.
	DirectionBroadcast
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case DirectionEmit:
		return "emit"
	case DirectionBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Event is passed to every listener during a dispatch.
type Event struct {
	// Name is the event name listeners registered for.
	Name string

	// Payload is the value given to Emit or Broadcast.
	Payload any

	// Direction is the propagation direction.
	Direction Direction

	// Target is the node the dispatch started on.
	Target *Node

	// Current is the node whose listeners are running. It is nil once
	// the dispatch has finished.
	Current *Node

	stopped          bool
	defaultPrevented bool
	delivered        int
}

// StopPropagation stops an emitted event from reaching further ancestors.
// Listeners on the current node still run. It has no effect on broadcasts.
func (e *Event) StopPropagation() {
	if e.Direction == DirectionEmit {
		e.stopped = true
	}
}

// PropagationStopped reports whether StopPropagation took effect.
func (e *Event) PropagationStopped() bool {
	return e.stopped
}

// PreventDefault flags the event so the caller can skip its default action.
func (e *Event) PreventDefault() {
	e.defaultPrevented = true
}

// DefaultPrevented reports whether any listener called PreventDefault.
func (e *Event) DefaultPrevented() bool {
	return e.defaultPrevented
}

// Delivered returns the number of listeners that ran.
func (e *Event) Delivered() int {
	return e.delivered
}

// Emit dispatches event on n and then on each ancestor in turn, stopping
// after any node where a listener called StopPropagation. A destroyed node
// dispatches nothing.
func (n *Node) Emit(event string, payload any) *Event {
	e := &Event{
		Name:      event,
		Payload:   payload,
		Direction: DirectionEmit,
		Target:    n,
	}
	if n.destroyed.Load() {
		return e
	}

	span := beginDispatch(n.observers, e)
	for cur := n; cur != nil; cur = cur.parent {
		cur.deliver(e, span)
		if e.stopped {
			break
		}
	}
	e.Current = nil
	span.End(e.delivered)
	return e
}

// Broadcast dispatches event on n and then on every descendant, depth
// first in child registration order. Broadcasts cannot be stopped.
func (n *Node) Broadcast(event string, payload any) *Event {
	e := &Event{
		Name:      event,
		Payload:   payload,
		Direction: DirectionBroadcast,
		Target:    n,
	}
	if n.destroyed.Load() {
		return e
	}

	span := beginDispatch(n.observers, e)
	n.broadcast(e, span)
	e.Current = nil
	span.End(e.delivered)
	return e
}

func (n *Node) broadcast(e *Event, span spanGroup) {
	n.deliver(e, span)
	for _, child := range n.Children() {
		child.broadcast(e, span)
	}
}

// deliver runs n's listeners for e over a snapshot of the listener list.
func (n *Node) deliver(e *Event, span spanGroup) {
	handlers := n.snapshot(e.Name)
	if len(handlers) == 0 {
		return
	}
	e.Current = n
	for _, h := range handlers {
		n.invoke(h, e, span)
	}
}

// invoke runs a single listener, recovering and reporting a panic so the
// remaining listeners and propagation still run.
func (n *Node) invoke(h Handler, e *Event, span spanGroup) {
	e.delivered++
	defer func() {
		if r := recover(); r != nil {
			err := &HandlerPanicError{
				Event:  e.Name,
				NodeID: n.id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
			span.HandlerFailed(err)
			n.reporter.Report("listener panicked", ReportContext{Err: err, EventName: e.Name})
		}
	}()
	h(e)
}
