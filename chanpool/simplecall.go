package chanpool

// SimpleCall is a thin pass-through wrapper used when a method has no
// AffinityConfig: it forwards every operation straight to the underlying
// call and only adds stream-count bookkeeping - increment on Start,
// decrement at most once on Cancel or OnClose.
type SimpleCall struct {
	ref   *ChannelRef
	inner RawCall

	decremented onceFlag // Cancel and the wrapped OnClose both try, first wins
}

var _ Call = (*SimpleCall)(nil)

func newSimpleCall(ref *ChannelRef, inner RawCall) *SimpleCall {
	return &SimpleCall{ref: ref, inner: inner}
}

func (c *SimpleCall) decrementOnce() {
	if c.decremented.trigger() {
		c.ref.StreamsDecr()
	}
}

func (c *SimpleCall) Start(listener Listener, headers Metadata) error {
	c.ref.StreamsIncr()
	return c.inner.Start(&listenerWrapper{inner: listener, onClose: c.decrementOnce}, headers)
}

func (c *SimpleCall) Request(n int) { c.inner.Request(n) }

func (c *SimpleCall) SendMessage(message any) error { return c.inner.SendMessage(message) }

func (c *SimpleCall) SetMessageCompression(enabled bool) { c.inner.SetMessageCompression(enabled) }

func (c *SimpleCall) Cancel(message string, cause error) error {
	c.decrementOnce()
	c.inner.Cancel(message, cause)
	return nil
}

func (c *SimpleCall) HalfClose() error { return c.inner.HalfClose() }

func (c *SimpleCall) IsReady() bool { return c.inner.IsReady() }

func (c *SimpleCall) Attributes() (Attributes, error) { return c.inner.Attributes() }
