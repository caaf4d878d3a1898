// Package bind ties event subscriptions on long-lived scope nodes to the
// lifetime of shorter-lived nodes elsewhere in the tree.
//
// A typical use is a panel that listens to a session-wide event:
//
//	b := bind.New(scope.SlogReporter(logger))
//	off, err := b.BindDependentListener(panel, "user.updated", onUser, session)
//	if err != nil {
//	    return err
//	}
//
// The listener lives on session but is removed when panel is destroyed,
// when session is destroyed, or when off is called, whichever happens
// first. Removal happens exactly once; later triggers are no-ops.
//
// Failures while removing a listener during destruction are recovered and
// handed to the Reporter with the event name. They never reach the caller
// of Destroy.
package bind
