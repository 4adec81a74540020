package chanpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// callState is the DeferredCall state machine. Values are strictly
// increasing over a call's lifetime; "state >= sent" is the predicate
// every waiter checks, which covers both SENT and CLOSED.
type callState int32

const (
	stateNew callState = iota
	stateStarting
	stateSent
	stateClosed
)

// DeferredCall buffers every pre-start operation and delays opening the
// real underlying call until the first outbound message is available, so
// the affinity key can be extracted from it.
type DeferredCall struct {
	pool     *ManagedChannelPool
	ctx      context.Context
	method   string
	callOpts CallOptions
	cfg      AffinityConfig
	id       uuid.UUID

	state callState32
	sent  chan struct{} // closed exactly once, on the NEW/STARTING -> SENT transition

	mu                    sync.Mutex // guards the buffered fields below, read once at first-send
	pendingListener       Listener
	pendingHeaders        Metadata
	pendingRequested      int
	pendingCompression    bool
	pendingCompressionSet bool

	// Published (written once, before sent is closed; only read once the
	// sent channel has been observed closed, which happens-after the
	// writes below via the channel-close synchronization point).
	ref      *ChannelRef
	inner    RawCall
	startErr error

	decremented   onceFlag // cancel and the wrapped onClose both try, first wins
	firstResponse onceFlag // BIND extraction happens on the first response only
}

// callState32 is a tiny indirection so callState can live behind
// sync/atomic without every call site spelling out atomic.Int32.
type callState32 struct{ v atomic.Int32 }

func (s *callState32) load() callState            { return callState(s.v.Load()) }
func (s *callState32) store(v callState)          { s.v.Store(int32(v)) }
func (s *callState32) cas(old, next callState) bool { return s.v.CompareAndSwap(int32(old), int32(next)) }

var _ Call = (*DeferredCall)(nil)

func newDeferredCall(ctx context.Context, pool *ManagedChannelPool, method string, callOpts CallOptions, cfg AffinityConfig) *DeferredCall {
	return &DeferredCall{
		pool:     pool,
		ctx:      ctx,
		method:   method,
		callOpts: callOpts,
		cfg:      cfg,
		id:       uuid.New(),
		sent:     make(chan struct{}),
	}
}

func (c *DeferredCall) String() string {
	return fmt.Sprintf("deferred-call[%s %s]", c.method, c.id)
}

// waitSent blocks until the first sendMessage has completed (state >=
// SENT), or the call's context is done first. An interrupted wait is
// logged and reported as WaitInterrupted; it never leaves the call torn -
// the state machine only moves forward regardless of who is waiting.
func (c *DeferredCall) waitSent() error {
	if c.state.load() >= stateSent {
		return nil
	}
	select {
	case <-c.sent:
		return nil
	case <-c.ctx.Done():
		logWarnf(c, "wait interrupted: %v", c.ctx.Err())
		return &PoolError{Kind: WaitInterrupted, Op: "DeferredCall.wait", Err: c.ctx.Err()}
	}
}

// afterSent waits for SENT and then returns the error (if any) the
// first-send routine itself failed with, so every forwarding operation
// can do: if err := c.afterSent(); err != nil { return err }.
func (c *DeferredCall) afterSent() error {
	if err := c.waitSent(); err != nil {
		return err
	}
	return c.startErr
}

// Start stashes listener and headers for replay during the first send.
// It never touches the transport directly - the real Start happens once,
// from inside sendMessage's first-send routine - so later calls simply
// overwrite the buffered value (last caller wins), letting callers batch
// configuration before the affinity key is known.
func (c *DeferredCall) Start(listener Listener, headers Metadata) error {
	c.mu.Lock()
	c.pendingListener = listener
	c.pendingHeaders = headers
	c.mu.Unlock()
	return nil
}

// Request buffers n while NEW (overwriting, not additive, to match the
// underlying transport contract); once the call has left NEW it waits for
// SENT and forwards.
func (c *DeferredCall) Request(n int) {
	c.mu.Lock()
	if c.state.load() == stateNew {
		c.pendingRequested = n
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.afterSent(); err != nil {
		return
	}
	c.inner.Request(n)
}

// SetMessageCompression has the same buffer-then-forward discipline as
// Request.
func (c *DeferredCall) SetMessageCompression(enabled bool) {
	c.mu.Lock()
	if c.state.load() == stateNew {
		c.pendingCompression = enabled
		c.pendingCompressionSet = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.afterSent(); err != nil {
		return
	}
	c.inner.SetMessageCompression(enabled)
}

// Cancel fails with InvalidState in NEW: calling cancel before the first
// sendMessage is a programmer error. In any later state it waits for the
// ChannelRef to be published (STARTING blocks on msgSent same as every
// other operation - the counter it decrements doesn't exist until
// firstSend assigns c.ref), decrements the stream count idempotently,
// then forwards.
func (c *DeferredCall) Cancel(message string, cause error) error {
	if c.state.load() == stateNew {
		return &PoolError{Kind: InvalidState, Op: "DeferredCall.Cancel"}
	}
	if err := c.waitSent(); err != nil {
		return err
	}
	c.decrementOnce()

	if c.startErr != nil {
		return nil // first send never opened a real call; nothing to forward to
	}
	c.inner.Cancel(message, cause)
	return nil
}

// HalfClose fails with InvalidState in NEW; otherwise waits for SENT and
// forwards.
func (c *DeferredCall) HalfClose() error {
	if c.state.load() == stateNew {
		return &PoolError{Kind: InvalidState, Op: "DeferredCall.HalfClose"}
	}
	if err := c.afterSent(); err != nil {
		return err
	}
	return c.inner.HalfClose()
}

// IsReady delegates to the underlying call once it exists; the facade is
// always ready to accept the first send, so it reports true until then.
// c.inner is only read after observing state >= SENT, which is
// synchronized with firstSend's publish via the sent-channel close. If
// the first send never managed to open a real call, there is no inner
// call to delegate to - report not ready, same floor check Attributes()
// already does for its own nil-inner case.
func (c *DeferredCall) IsReady() bool {
	if c.state.load() < stateSent {
		return true
	}
	if c.startErr != nil {
		return false
	}
	return c.inner.IsReady()
}

// Attributes fails with InvalidState until SENT has been reached at least
// once; state is monotonic, so this is simply a floor check.
func (c *DeferredCall) Attributes() (Attributes, error) {
	if c.state.load() < stateSent {
		return nil, &PoolError{Kind: InvalidState, Op: "DeferredCall.Attributes"}
	}
	if c.startErr != nil {
		return nil, c.startErr
	}
	return c.inner.Attributes()
}

// SendMessage is the sole trigger for opening the underlying call. The
// first caller to win the NEW->STARTING compare-and-swap runs firstSend;
// every other caller (whether racing in concurrently or arriving any
// time later) just waits for SENT and forwards - "no state change, no
// condition wait" once SENT has already been reached.
func (c *DeferredCall) SendMessage(message any) error {
	if c.state.cas(stateNew, stateStarting) {
		return c.firstSend(message)
	}
	if err := c.afterSent(); err != nil {
		return err
	}
	return c.inner.SendMessage(message)
}

// firstSend runs exactly once per DeferredCall, under the exclusive latch
// SendMessage's CAS grants it. It extracts the affinity key, selects a
// channel, opens the real call, replays the buffered operations, forwards
// the message, and finally publishes SENT.
func (c *DeferredCall) firstSend(message any) error {
	key, _ := c.pool.extractKey(message, true, c.method)

	ref, err := c.pool.pickForKey(c.ctx, key)
	if err != nil {
		return c.abortStart(err)
	}

	if c.cfg.Command == UNBIND && key != "" {
		c.pool.unbind(key)
	}

	ref.StreamsIncr()

	inner, err := ref.Channel().NewCall(c.ctx, c.method, c.callOpts)
	if err != nil {
		ref.StreamsDecr()
		return c.abortStart(err)
	}

	c.mu.Lock()
	listener := c.pendingListener
	headers := c.pendingHeaders
	requested := c.pendingRequested
	compression := c.pendingCompression
	compressionSet := c.pendingCompressionSet
	c.mu.Unlock()

	wrapped := &listenerWrapper{
		inner:          listener,
		onFirstMessage: func(resp any) { c.onFirstResponse(resp, ref) },
		onClose:        c.onRealClose,
	}

	if err := inner.Start(wrapped, headers); err != nil {
		ref.StreamsDecr()
		return c.abortStart(err)
	}
	if compressionSet {
		inner.SetMessageCompression(compression)
	}
	if requested > 0 {
		inner.Request(requested)
	}

	sendErr := inner.SendMessage(message)

	c.ref = ref
	c.inner = inner
	c.state.store(stateSent)
	close(c.sent)

	return sendErr
}

// abortStart publishes a terminal failure for a first-send routine that
// never managed to open a real call: callers blocked in waitSent must
// still be released, and decremented must still end up true so a later
// Cancel/OnClose never double-decrements a count firstSend itself walked
// back already.
func (c *DeferredCall) abortStart(err error) error {
	c.startErr = &PoolError{Kind: TransportErrorKind, Op: "DeferredCall.firstSend", Err: err}
	c.decremented.trigger() // nothing to decrement again later - firstSend already undid its own increment
	c.state.store(stateClosed)
	close(c.sent)
	return c.startErr
}

// decrementOnce performs the single stream-count decrement this call will
// ever make, whichever of Cancel or the wrapped OnClose gets there first.
func (c *DeferredCall) decrementOnce() {
	if c.decremented.trigger() {
		c.ref.StreamsDecr()
	}
}

// onRealClose is the wrapped listener's OnClose hook for a call that
// actually opened a real underlying call. It does the same idempotent
// decrement Cancel does, then advances state to CLOSED - the state
// table's CLOSED row is entered specifically by the inner call's
// OnClose, not by Cancel alone, so this is the only place that stores
// it on the success path. listenerWrapper's own once-flag already
// guarantees OnClose is forwarded here at most once, so the store is
// never racing itself.
func (c *DeferredCall) onRealClose() {
	c.decrementOnce()
	c.state.store(stateClosed)
}

// onFirstResponse runs once, on the first inbound message, regardless of
// the call's AffinityConfig - but only BIND-configured calls bind
// anything to the AffinityIndex.
func (c *DeferredCall) onFirstResponse(message any, ref *ChannelRef) {
	if !c.firstResponse.trigger() {
		return
	}
	if c.cfg.Command != BIND {
		return
	}
	if key, ok := c.pool.extractKey(message, false, c.method); ok && key != "" {
		c.pool.bind(ref, key)
	}
}
