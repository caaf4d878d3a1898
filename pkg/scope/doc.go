// Package scope provides the lifecycle tree that event subscriptions hang off.
//
// A Node is a scope in an ownership hierarchy. Each node keeps a per-event
// listener table, an ordered list of destroy callbacks, and its children.
// Destroying a node fires its destroy callbacks, drops its listeners and then
// destroys every child, so a subtree is always torn down as a unit.
//
// # Core Types
//
// Node is a scope in the tree:
//
//	root := scope.NewRoot()
//	child := scope.NewNode(root, scope.WithName("panel"))
//	defer child.Destroy()
//
// Listeners are registered with On and removed with the returned Unregister:
//
//	off := root.On("saved", func(e *scope.Event) {
//	    fmt.Println("saved:", e.Payload)
//	})
//	defer off()
//
// # Propagation
//
// Events travel in one of two directions:
//
//   - Emit runs listeners on the node, then on each ancestor up to the root.
//     Any listener may call Event.StopPropagation to halt the climb once the
//     current node's listeners have run.
//   - Broadcast runs listeners on the node, then on every descendant,
//     depth first in child registration order. Broadcasts cannot be halted.
//
// Listener lists are copied before they are walked. A listener that adds or
// removes listeners, or destroys nodes, only affects later dispatches.
//
// # Failures
//
// A panicking listener or destroy callback is recovered and handed to the
// node's Reporter. The remaining listeners, callbacks and propagation steps
// still run. Lifecycle bookkeeping never panics back into the caller of
// Destroy, Emit or Broadcast.
//
// # Thread Safety
//
// Nodes guard their internal state with a mutex and never hold it while
// running user code. Dispatch ordering guarantees assume that tree
// operations are serialized onto one goroutine, as the hub server does.
package scope
