package bind

import (
	"errors"
	"fmt"
)

// Sentinel errors for binding.
var (
	// ErrSourceDestroyed is returned when binding against a destroyed source
	// under RejectDestroyedSource.
	ErrSourceDestroyed = errors.New("bind: source node destroyed")

	// ErrNilNode is returned when the dependent or source is nil.
	ErrNilNode = errors.New("bind: node cannot be nil")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("bind: handler cannot be nil")

	// ErrUnregisterFailed matches any recovered unregister failure.
	ErrUnregisterFailed = errors.New("bind: unregister failed")
)

// UnregisterError wraps a failure raised while removing a listener.
type UnregisterError struct {
	// Event is the event name of the subscription.
	Event string

	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e *UnregisterError) Error() string {
	return fmt.Sprintf("bind: unregister %q failed: %v", e.Event, e.Value)
}

// Is allows errors.Is to match UnregisterError with ErrUnregisterFailed.
func (e *UnregisterError) Is(target error) bool {
	return target == ErrUnregisterFailed
}

// Unwrap returns the panic value when it was an error.
func (e *UnregisterError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
