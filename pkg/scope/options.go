package scope

// Option configures a Node at creation time.
type Option func(*Node)

// WithName sets a human-readable name used in logs and snapshots.
func WithName(name string) Option {
	return func(n *Node) {
		n.name = name
	}
}

// WithReporter sets the Reporter that receives recovered panics.
// Children inherit it unless they set their own.
func WithReporter(r Reporter) Option {
	return func(n *Node) {
		if r != nil {
			n.reporter = r
		}
	}
}

// WithObserver attaches an observer to the node and, by inheritance, its
// future children. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(n *Node) {
		if o == nil {
			return
		}
		observers := make([]Observer, len(n.observers), len(n.observers)+1)
		copy(observers, n.observers)
		n.observers = append(observers, o)
	}
}
