package scope

// Observer is notified about dispatches and destructions on the nodes it is
// attached to. Telemetry adapters implement it.
type Observer interface {
	// BeginDispatch is called when Emit or Broadcast starts on a live node.
	BeginDispatch(e *Event) DispatchSpan

	// NodeDestroyed is called once per node after its subtree is torn down.
	NodeDestroyed(n *Node)
}

// DispatchSpan tracks a single dispatch started by BeginDispatch.
type DispatchSpan interface {
	// HandlerFailed is called for each listener that panicked.
	HandlerFailed(err error)

	// End is called when propagation finishes with the number of listeners run.
	End(delivered int)
}

// spanGroup fans a dispatch out to every observer's span.
type spanGroup []DispatchSpan

func (g spanGroup) HandlerFailed(err error) {
	for _, s := range g {
		s.HandlerFailed(err)
	}
}

func (g spanGroup) End(delivered int) {
	for _, s := range g {
		s.End(delivered)
	}
}

func beginDispatch(observers []Observer, e *Event) spanGroup {
	if len(observers) == 0 {
		return nil
	}
	spans := make(spanGroup, 0, len(observers))
	for _, o := range observers {
		if s := o.BeginDispatch(e); s != nil {
			spans = append(spans, s)
		}
	}
	return spans
}
