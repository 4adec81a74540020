// Package chanpool implements an affinity-aware managed channel pool that
// sits in front of an RPC transport. It multiplexes many logical RPCs
// across a bounded set of transport channels, routes each call to a
// channel according to a per-call affinity key extracted from request or
// response payloads, and otherwise picks the channel with the fewest
// active streams. Channels are added up to a maximum pool size; there is
// no per-channel limit on concurrent streams.
//
// The transport itself, the payload schemas, and the field-extraction
// mechanism are all external collaborators: chanpool only consumes the
// three interfaces in this file.
package chanpool

import "context"

// RawChannel is one underlying transport channel. chanpool never
// interprets its contents; it only tracks how many streams are open on
// it and closes it on pool shutdown.
type RawChannel interface {
	// NewCall opens a new call against this channel for the given
	// method, with the given caller-supplied options.
	NewCall(ctx context.Context, method string, opts CallOptions) (RawCall, error)
	// Close releases the channel.
	Close() error
}

// RawCall is a single in-flight RPC on a RawChannel.
type RawCall interface {
	Start(listener Listener, headers Metadata) error
	Request(numMessages int)
	SendMessage(message any) error
	SetMessageCompression(enabled bool)
	Cancel(message string, cause error)
	HalfClose() error
	IsReady() bool
	Attributes() (Attributes, error)
}

// Listener receives callbacks for a single call. All methods are
// optional for implementers to act on; chanpool always forwards every
// callback exactly once per underlying event.
type Listener interface {
	OnHeaders(headers Metadata)
	OnMessage(message any)
	OnClose(status Status, trailers Metadata)
	OnReady()
}

// Metadata, Attributes and Status are opaque transport-defined values
// chanpool forwards without interpreting.
type Metadata any
type Attributes any
type Status any

// CallOptions are caller-supplied per-call options, forwarded verbatim to
// the transport when the underlying call is opened.
type CallOptions any

// RawChannelFactory creates a fresh RawChannel. Supplied by the transport
// at pool construction.
type RawChannelFactory func(ctx context.Context) (RawChannel, error)

// PayloadExtractor pulls a dotted-path field out of a message and
// stringifies it. It returns ("", false) when the field is missing or
// the payload is malformed - chanpool treats both as "no key" and never
// surfaces extraction failure as an error.
type PayloadExtractor func(message any, keyPath string) (string, bool)

// Command is one of the three affinity directives a method's
// AffinityConfig can carry.
type Command int

const (
	// BOUND: extract the key from the request and use it for routing
	// only; never mutates the AffinityIndex.
	BOUND Command = iota
	// BIND: extract the key from the first response and bind it to the
	// ChannelRef the call was routed to.
	BIND
	// UNBIND: extract the key from the request and remove its binding
	// (if any) at call start, routing this call via the pre-unbind
	// binding.
	UNBIND
)

// AffinityConfig is the read-only per-method descriptor that tells the
// pool how (and whether) to route calls to that method by affinity key.
type AffinityConfig struct {
	// KeyPath selects the field to extract. An empty KeyPath disables
	// extraction for this method even if an AffinityConfig exists.
	KeyPath string
	Command Command
}

// AffinityRegistry resolves a method name to its AffinityConfig. Methods
// with no entry get no affinity routing at all (SimpleCall).
type AffinityRegistry interface {
	MethodAffinity(method string) (AffinityConfig, bool)
}

// AffinityRegistryFunc adapts a plain function to an AffinityRegistry.
type AffinityRegistryFunc func(method string) (AffinityConfig, bool)

// MethodAffinity implements AffinityRegistry.
func (f AffinityRegistryFunc) MethodAffinity(method string) (AffinityConfig, bool) {
	return f(method)
}

// Call is the RPC facade chanpool hands back from NewCall: either a
// *SimpleCall or a *DeferredCall, both of which implement it.
type Call interface {
	Start(listener Listener, headers Metadata) error
	Request(numMessages int)
	SendMessage(message any) error
	SetMessageCompression(enabled bool)
	Cancel(message string, cause error) error
	HalfClose() error
	IsReady() bool
	Attributes() (Attributes, error)
}
