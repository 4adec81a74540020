package chanpool

// listenerWrapper forwards every callback to the user's Listener
// unchanged except OnMessage and OnClose, which it intercepts first: a
// forwarding wrapper that defaults every callback to pass-through and
// overrides only the two it needs.
var _ Listener = (*listenerWrapper)(nil)

type listenerWrapper struct {
	inner Listener

	// onFirstMessage, if set, is invoked exactly once, before the first
	// OnMessage is forwarded.
	onFirstMessage func(message any)
	firstMessage   onceFlag

	// onClose, if set, is invoked exactly once before OnClose is
	// forwarded - used for the idempotent stream-count decrement.
	onClose func()
	closed  onceFlag
}

func (w *listenerWrapper) OnHeaders(headers Metadata) {
	if w.inner != nil {
		w.inner.OnHeaders(headers)
	}
}

func (w *listenerWrapper) OnReady() {
	if w.inner != nil {
		w.inner.OnReady()
	}
}

func (w *listenerWrapper) OnMessage(message any) {
	if w.onFirstMessage != nil && w.firstMessage.trigger() {
		w.onFirstMessage(message)
	}
	if w.inner != nil {
		w.inner.OnMessage(message)
	}
}

func (w *listenerWrapper) OnClose(status Status, trailers Metadata) {
	if w.onClose != nil && w.closed.trigger() {
		w.onClose()
	}
	if w.inner != nil {
		w.inner.OnClose(status, trailers)
	}
}
