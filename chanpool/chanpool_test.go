package chanpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeRawCall is a hand-rolled RawCall double. Every observable action is
// recorded so tests can assert on call sequencing without a mocking
// framework.
type fakeRawCall struct {
	mu sync.Mutex

	startErr error
	sendErr  error

	listener  Listener
	headers   Metadata
	started   bool
	requested int
	compSet   bool
	comp      bool
	sent      []any
	canceled  bool
	cancelMsg string
	cancelErr error
	halfClose bool
	ready     bool
	attrs     Attributes
	attrsErr  error
}

func (c *fakeRawCall) Start(listener Listener, headers Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
	c.headers = headers
	c.started = true
	return c.startErr
}

func (c *fakeRawCall) Request(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requested = n
}

func (c *fakeRawCall) SendMessage(message any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, message)
	return c.sendErr
}

func (c *fakeRawCall) SetMessageCompression(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comp, c.compSet = enabled, true
}

func (c *fakeRawCall) Cancel(message string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = true
	c.cancelMsg = message
	c.cancelErr = cause
}

func (c *fakeRawCall) HalfClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halfClose = true
	return nil
}

func (c *fakeRawCall) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeRawCall) Attributes() (Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs, c.attrsErr
}

// deliver fakes an inbound message on the call's listener, as the
// transport would on a real read.
func (c *fakeRawCall) deliver(message any) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnMessage(message)
	}
}

func (c *fakeRawCall) close(status Status, trailers Metadata) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnClose(status, trailers)
	}
}

// fakeRawChannel is a hand-rolled RawChannel double. newCallErr, when set,
// makes every NewCall fail, simulating a broken transport.
type fakeRawChannel struct {
	name      string
	newCallErr error
	calls      atomic.Int64
	closed     atomic.Bool
}

func newFakeRawChannel(name string) *fakeRawChannel {
	return &fakeRawChannel{name: name}
}

func (f *fakeRawChannel) NewCall(ctx context.Context, method string, opts CallOptions) (RawCall, error) {
	f.calls.Add(1)
	if f.newCallErr != nil {
		return nil, f.newCallErr
	}
	return &fakeRawCall{}, nil
}

func (f *fakeRawChannel) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeListener records every callback it receives.
type fakeListener struct {
	mu       sync.Mutex
	headers  []Metadata
	messages []any
	closed   bool
	status   Status
	trailers Metadata
	ready    int
}

func (l *fakeListener) OnHeaders(headers Metadata) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headers = append(l.headers, headers)
}

func (l *fakeListener) OnMessage(message any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, message)
}

func (l *fakeListener) OnClose(status Status, trailers Metadata) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.status = status
	l.trailers = trailers
}

func (l *fakeListener) OnReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready++
}

func (l *fakeListener) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// kvExtractor treats message as map[string]string and looks keyPath up
// directly (no dotted paths - tests don't need that generality).
func kvExtractor(message any, keyPath string) (string, bool) {
	m, ok := message.(map[string]string)
	if !ok {
		return "", false
	}
	v, ok := m[keyPath]
	return v, ok
}

// fixedAffinity serves the same AffinityConfig for every method in the
// map and reports no config for anything else.
func fixedAffinity(methods map[string]AffinityConfig) AffinityRegistry {
	return AffinityRegistryFunc(func(method string) (AffinityConfig, bool) {
		cfg, ok := methods[method]
		return cfg, ok
	})
}

// newCountingFactory returns a RawChannelFactory that hands out fresh
// fakeRawChannels and records how many it has created.
func newCountingFactory() (RawChannelFactory, *atomic.Int64, *sync.Map) {
	var n atomic.Int64
	var created sync.Map // int64 id -> *fakeRawChannel, in creation order via id
	factory := func(ctx context.Context) (RawChannel, error) {
		id := n.Add(1)
		ch := newFakeRawChannel("ch")
		created.Store(id, ch)
		return ch, nil
	}
	return factory, &n, &created
}
