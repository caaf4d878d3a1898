package bind

import (
	"sync"

	"github.com/vango-dev/scopebind/pkg/scope"
)

// ReleaseReason records what removed a bound listener.
type ReleaseReason uint8

const (
	// ReleaseNone means the subscription is still active.
	ReleaseNone ReleaseReason = iota

	// ReleaseManual means the caller invoked the unregister function.
	ReleaseManual

	// ReleaseDependentDestroyed means the dependent node was destroyed.
	ReleaseDependentDestroyed

	// ReleaseSourceDestroyed means the source node was destroyed first,
	// or was already destroyed at bind time.
	ReleaseSourceDestroyed

	// ReleaseImmediate means the dependent was already destroyed at bind time.
	ReleaseImmediate
)

// String returns a human-readable reason, also used as a metric label.
func (r ReleaseReason) String() string {
	switch r {
	case ReleaseNone:
		return "none"
	case ReleaseManual:
		return "manual"
	case ReleaseDependentDestroyed:
		return "dependent_destroyed"
	case ReleaseSourceDestroyed:
		return "source_destroyed"
	case ReleaseImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// Subscription is the state of one bound listener: the source-side
// unregister function plus a released flag that makes removal happen at
// most once.
type Subscription struct {
	binder *Binder
	event  string

	// unregister removes the handler from the source.
	unregister scope.Unregister

	mu       sync.Mutex
	released bool
	reason   ReleaseReason

	// cancelDependent and cancelSource drop the pending destroy callbacks
	// once the subscription is released some other way.
	cancelDependent func()
	cancelSource    func()
}

// Event returns the subscribed event name.
func (s *Subscription) Event() string {
	return s.event
}

// Released reports whether the listener has been removed.
func (s *Subscription) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Reason returns why the subscription was released, or ReleaseNone.
func (s *Subscription) Reason() ReleaseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Release removes the listener from the source. Only the first call
// has any effect.
func (s *Subscription) Release() {
	s.release(ReleaseManual)
}

// Unregister returns Release as a scope.Unregister.
func (s *Subscription) Unregister() scope.Unregister {
	return s.Release
}

func (s *Subscription) release(reason ReleaseReason) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.reason = reason
	cancelDependent, cancelSource := s.cancelDependent, s.cancelSource
	s.cancelDependent, s.cancelSource = nil, nil
	s.mu.Unlock()

	if cancelDependent != nil {
		cancelDependent()
	}
	if cancelSource != nil {
		cancelSource()
	}

	s.unregisterSafely()

	for _, o := range s.binder.observers {
		o.Released(s.event, reason)
	}
}

// unregisterSafely runs the source-side unregister, reporting a panic
// instead of propagating it so sibling destroy callbacks keep running.
func (s *Subscription) unregisterSafely() {
	if s.unregister == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.binder.reporter.Report("failed to unregister listener", scope.ReportContext{
				Err:       &UnregisterError{Event: s.event, Value: r},
				EventName: s.event,
			})
		}
	}()
	s.unregister()
}
