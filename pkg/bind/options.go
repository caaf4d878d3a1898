package bind

// DestroyedSourcePolicy decides what binding against a destroyed source does.
type DestroyedSourcePolicy uint8

const (
	// IgnoreDestroyedSource returns a no-op unregister and a nil error,
	// as if listening for an event that never fires again.
	IgnoreDestroyedSource DestroyedSourcePolicy = iota

	// RejectDestroyedSource returns a no-op unregister and ErrSourceDestroyed.
	RejectDestroyedSource
)

// String returns the policy name used in configuration.
func (p DestroyedSourcePolicy) String() string {
	switch p {
	case IgnoreDestroyedSource:
		return "ignore"
	case RejectDestroyedSource:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseDestroyedSourcePolicy parses "ignore" or "reject".
func ParseDestroyedSourcePolicy(s string) (DestroyedSourcePolicy, bool) {
	switch s {
	case "", "ignore":
		return IgnoreDestroyedSource, true
	case "reject":
		return RejectDestroyedSource, true
	default:
		return IgnoreDestroyedSource, false
	}
}

// Option configures a Binder.
type Option func(*Binder)

// WithDestroyedSourcePolicy sets the destroyed-source policy.
// Default: IgnoreDestroyedSource.
func WithDestroyedSourcePolicy(p DestroyedSourcePolicy) Option {
	return func(b *Binder) {
		b.policy = p
	}
}

// WithObserver attaches an observer notified on bind and release.
// It may be given more than once.
func WithObserver(o Observer) Option {
	return func(b *Binder) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}
