package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for hub and connection conditions.
var (
	// ErrHubClosed is returned when work is submitted to a closed hub.
	ErrHubClosed = errors.New("server: hub closed")

	// ErrDispatchQueueFull is returned when the hub loop is saturated.
	ErrDispatchQueueFull = errors.New("server: dispatch queue full")

	// ErrRoomNotFound is returned when a room does not exist.
	ErrRoomNotFound = errors.New("server: room not found")

	// ErrInvalidRoom is returned for an empty or malformed room name.
	ErrInvalidRoom = errors.New("server: invalid room name")

	// ErrNoSnapshotSink is returned when no snapshot sink is configured.
	ErrNoSnapshotSink = errors.New("server: no snapshot sink configured")
)

// ConnError wraps an error with connection context.
type ConnError struct {
	ConnID string
	Op     string
	Err    error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}
