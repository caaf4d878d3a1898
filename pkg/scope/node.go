package scope

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Node is a scope in the lifecycle tree.
//
// A node owns the destruction of its children: destroying a node destroys
// its whole subtree. It does not own its parent. Listeners and destroy
// callbacks registered on a node live exactly as long as the node.
type Node struct {
	id   uint64
	name string

	// parent is the owning node, nil for a root.
	parent *Node

	// mu guards children, listeners and hooks. It is never held while
	// user code runs.
	mu sync.Mutex

	// children in registration order.
	children []*Node

	// listeners maps event names to handlers in registration order.
	listeners map[string][]*listener

	// hooks are destroy callbacks in registration order.
	hooks []*destroyHook

	destroyed atomic.Bool

	reporter  Reporter
	observers []Observer
}

// destroyHook is a single destroy callback. done is guarded by the owning
// node's mu and flips when the hook runs or is cancelled.
type destroyHook struct {
	fn   func()
	done bool
}

// NewRoot creates a node with no parent.
func NewRoot(opts ...Option) *Node {
	return NewNode(nil, opts...)
}

// NewNode creates a node owned by parent. A nil parent creates a root.
//
// The new node inherits the parent's Reporter and observers; opts are
// applied afterwards. If parent is already destroyed the returned node is
// destroyed too and is not attached, since a destroyed node cannot have
// live children.
func NewNode(parent *Node, opts ...Option) *Node {
	n := &Node{
		id:     nextID(),
		parent: parent,
	}
	if parent != nil {
		n.reporter = parent.reporter
		n.observers = parent.observers
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.reporter == nil {
		n.reporter = SlogReporter(nil)
	}

	if parent != nil && !parent.addChild(n) {
		n.destroyed.Store(true)
	}
	return n
}

// ID returns the unique identifier for this node.
func (n *Node) ID() uint64 {
	return n.id
}

// Name returns the node's name, or "" if none was set.
func (n *Node) Name() string {
	return n.name
}

// String returns a short description for logs.
func (n *Node) String() string {
	if n.name != "" {
		return fmt.Sprintf("%s#%d", n.name, n.id)
	}
	return fmt.Sprintf("node#%d", n.id)
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Root walks up to the topmost ancestor.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Children returns a copy of the node's current children.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// IsDestroyed reports whether Destroy has been called on this node or an
// ancestor.
func (n *Node) IsDestroyed() bool {
	return n.destroyed.Load()
}

// Reporter returns the node's failure reporter.
func (n *Node) Reporter() Reporter {
	return n.reporter
}

// addChild registers a child. It returns false if n is already destroyed.
func (n *Node) addChild(child *Node) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed.Load() {
		return false
	}
	n.children = append(n.children, child)
	return true
}

// removeChild removes a child from this node's children.
func (n *Node) removeChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// OnDestroy registers fn to run exactly once when the node is destroyed.
// Callbacks run in registration order.
//
// If the node is already destroyed, fn runs immediately. The returned
// cancel function removes fn if it has not run yet; it is safe to call any
// number of times.
func (n *Node) OnDestroy(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	n.mu.Lock()
	if n.destroyed.Load() {
		n.mu.Unlock()
		n.runHook(&destroyHook{fn: fn})
		return func() {}
	}
	h := &destroyHook{fn: fn}
	n.hooks = append(n.hooks, h)
	n.mu.Unlock()

	return func() { n.cancelHook(h) }
}

// DestroyCallbackCount returns the number of destroy callbacks still pending.
func (n *Node) DestroyCallbackCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hooks)
}

func (n *Node) cancelHook(h *destroyHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	for i, cur := range n.hooks {
		if cur == h {
			n.hooks = append(n.hooks[:i], n.hooks[i+1:]...)
			return
		}
	}
}

// runHook runs a destroy callback unless it was cancelled, recovering and
// reporting any panic.
func (n *Node) runHook(h *destroyHook) {
	n.mu.Lock()
	if h.done {
		n.mu.Unlock()
		return
	}
	h.done = true
	n.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			n.reporter.Report("destroy callback panicked", ReportContext{
				Err: &CallbackPanicError{
					NodeID: n.id,
					Value:  r,
					Stack:  string(debug.Stack()),
				},
			})
		}
	}()
	h.fn()
}

// Destroy tears down the node and its subtree.
//
// The first call marks the node destroyed, detaches it from its parent,
// runs its destroy callbacks in registration order, drops its listeners and
// callbacks, and then destroys every child in registration order. Later
// calls return immediately. Panics from callbacks are reported, never
// propagated.
func (n *Node) Destroy() {
	if n.destroyed.Swap(true) {
		return
	}

	if n.parent != nil {
		n.parent.removeChild(n)
	}

	n.mu.Lock()
	hooks := append([]*destroyHook(nil), n.hooks...)
	n.mu.Unlock()

	for _, h := range hooks {
		n.runHook(h)
	}

	n.mu.Lock()
	n.hooks = nil
	n.listeners = nil
	children := n.children
	n.children = nil
	n.mu.Unlock()

	for _, child := range children {
		child.Destroy()
	}

	for _, o := range n.observers {
		o.NodeDestroyed(n)
	}
}
