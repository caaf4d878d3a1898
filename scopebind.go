// Package scopebind binds event listeners on long-lived scope nodes to the
// lifetime of short-lived ones.
//
// This is the recommended import for most applications:
//
//	root := scopebind.NewRoot()
//	kit := scopebind.New(root, scopebind.SlogReporter(logger))
//
//	panel := scopebind.NewNode(root)
//	kit.BindDependentListener(panel, "theme.changed", func(e *scopebind.Event) {
//	    applyTheme(e.Payload)
//	})
//	...
//	panel.Destroy() // the listener on root is gone
//
// The lower-level packages are pkg/scope (the tree and its event routing)
// and pkg/bind (the binder itself).
package scopebind

import (
	"log/slog"

	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
)

// =============================================================================
// Tree (re-export from pkg/scope)
// =============================================================================

// Node is a scope in the lifecycle tree.
type Node = scope.Node

// Event is passed to listeners during a dispatch.
type Event = scope.Event

// Handler is a listener.
type Handler = scope.Handler

// Unregister removes a registration; calling it twice is a no-op.
type Unregister = scope.Unregister

// Reporter receives failures absorbed by lifecycle code.
type Reporter = scope.Reporter

// ReportContext is the structured context attached to a report.
type ReportContext = scope.ReportContext

// NewRoot creates a node with no parent.
var NewRoot = scope.NewRoot

// NewNode creates a node owned by parent.
var NewNode = scope.NewNode

// SlogReporter returns a Reporter that logs through logger.
func SlogReporter(logger *slog.Logger) Reporter {
	return scope.SlogReporter(logger)
}

// =============================================================================
// Facade
// =============================================================================

// Facade exposes a Binder whose source defaults to a fixed root node.
// It holds no state beyond the root and the binder.
type Facade struct {
	root   *Node
	binder *bind.Binder
}

// New creates a Facade whose default source is root.
func New(root *Node, reporter Reporter, opts ...bind.Option) *Facade {
	return &Facade{
		root:   root,
		binder: bind.New(reporter, opts...),
	}
}

// NewWithBinder creates a Facade around an existing Binder.
func NewWithBinder(root *Node, binder *bind.Binder) *Facade {
	return &Facade{root: root, binder: binder}
}

// Root returns the default source node.
func (f *Facade) Root() *Node {
	return f.root
}

// Binder returns the underlying Binder.
func (f *Facade) Binder() *bind.Binder {
	return f.binder
}

// BindDependentListener listens for event on the root until dependent is
// destroyed.
func (f *Facade) BindDependentListener(dependent *Node, event string, handler Handler) (Unregister, error) {
	return f.binder.BindDependentListener(dependent, event, handler, f.root)
}

// BindDependentListenerOn listens for event on source until dependent is
// destroyed.
func (f *Facade) BindDependentListenerOn(source, dependent *Node, event string, handler Handler) (Unregister, error) {
	return f.binder.BindDependentListener(dependent, event, handler, source)
}
