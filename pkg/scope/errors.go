package scope

import (
	"errors"
	"fmt"
)

// Sentinel errors for scope operations.
var (
	// ErrNodeDestroyed is returned when registering on a node that has been destroyed.
	ErrNodeDestroyed = errors.New("scope: node destroyed")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("scope: handler cannot be nil")

	// ErrHandlerPanic matches any recovered listener or destroy callback panic.
	ErrHandlerPanic = errors.New("scope: handler panicked")
)

// HandlerPanicError wraps a panic raised by a listener during Emit or Broadcast.
type HandlerPanicError struct {
	// Event is the name of the event being dispatched.
	Event string

	// NodeID is the ID of the node whose listener panicked.
	NodeID uint64

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("scope: listener for %q on node %d panicked: %v", e.Event, e.NodeID, e.Value)
}

// Is allows errors.Is to match HandlerPanicError with ErrHandlerPanic.
func (e *HandlerPanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// Unwrap returns the panic value when it was an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// CallbackPanicError wraps a panic raised by a destroy callback.
type CallbackPanicError struct {
	// NodeID is the ID of the node being destroyed.
	NodeID uint64

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("scope: destroy callback on node %d panicked: %v", e.NodeID, e.Value)
}

// Is allows errors.Is to match CallbackPanicError with ErrHandlerPanic.
func (e *CallbackPanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// Unwrap returns the panic value when it was an error.
func (e *CallbackPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
