package bind

import (
	"github.com/vango-dev/scopebind/pkg/scope"
)

// Dependent is the short-lived side of a binding. *scope.Node implements it.
type Dependent interface {
	IsDestroyed() bool
	OnDestroy(fn func()) (cancel func())
}

// Source is the long-lived side of a binding that holds the listener.
// *scope.Node implements it.
type Source interface {
	Dependent
	Subscribe(event string, handler scope.Handler) (scope.Unregister, error)
}

// Observer is notified when subscriptions are bound and released.
type Observer interface {
	Bound(event string)
	Released(event string, reason ReleaseReason)
}

// Binder binds listeners on source nodes to the lifetime of dependent nodes.
// A Binder holds no per-subscription state and is safe to share.
type Binder struct {
	reporter  scope.Reporter
	policy    DestroyedSourcePolicy
	observers []Observer
}

// New creates a Binder that reports absorbed failures to reporter.
// A nil reporter logs through slog.Default().
func New(reporter scope.Reporter, opts ...Option) *Binder {
	if reporter == nil {
		reporter = scope.SlogReporter(nil)
	}
	b := &Binder{reporter: reporter}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Policy returns the destroyed-source policy.
func (b *Binder) Policy() DestroyedSourcePolicy {
	return b.policy
}

// BindDependentListener registers handler for event on source and removes it
// when dependent is destroyed. The returned function removes it earlier;
// it is idempotent and never nil, even when err is non-nil.
func (b *Binder) BindDependentListener(dependent Dependent, event string, handler scope.Handler, source Source) (scope.Unregister, error) {
	sub, err := b.Bind(dependent, event, handler, source)
	if err != nil {
		return scope.Nop, err
	}
	return sub.Unregister(), nil
}

// Bind is BindDependentListener returning the Subscription itself.
//
// Removal happens at most once, on the first of: dependent destroyed,
// source destroyed, or Release. If the source is already destroyed nothing
// is registered and the returned subscription is already released. If the
// dependent is already destroyed the listener is registered and removed
// before Bind returns.
func (b *Binder) Bind(dependent Dependent, event string, handler scope.Handler, source Source) (*Subscription, error) {
	if isNil(dependent) || isNil(source) {
		return nil, ErrNilNode
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{binder: b, event: event}

	if source.IsDestroyed() {
		return b.sourceGone(sub)
	}

	off, err := source.Subscribe(event, handler)
	if err != nil {
		// Lost a race with the source's destruction.
		return b.sourceGone(sub)
	}
	sub.unregister = off

	for _, o := range b.observers {
		o.Bound(event)
	}

	if dependent.IsDestroyed() {
		sub.release(ReleaseImmediate)
		return sub, nil
	}

	cancelDependent := dependent.OnDestroy(func() { sub.release(ReleaseDependentDestroyed) })
	cancelSource := source.OnDestroy(func() { sub.release(ReleaseSourceDestroyed) })

	sub.mu.Lock()
	if sub.released {
		sub.mu.Unlock()
		cancelDependent()
		cancelSource()
		return sub, nil
	}
	sub.cancelDependent = cancelDependent
	sub.cancelSource = cancelSource
	sub.mu.Unlock()

	return sub, nil
}

func (b *Binder) sourceGone(sub *Subscription) (*Subscription, error) {
	sub.released = true
	sub.reason = ReleaseSourceDestroyed
	if b.policy == RejectDestroyedSource {
		return sub, ErrSourceDestroyed
	}
	return sub, nil
}

// isNil catches both untyped nil and a nil *scope.Node in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	n, ok := v.(*scope.Node)
	return ok && n == nil
}
