package chanpool

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ChannelRef wraps one underlying transport channel together with its
// active-stream bookkeeping. It is created lazily by the pool and never
// destroyed while the pool is live; the only thing that changes over its
// lifetime is the stream counter.
//
// The counter is consulted only under the pool's selection lock (see
// pool.go), but it is mutated from any caller - an atomic integer is
// sufficient, no compare-and-swap loop is required.
type ChannelRef struct {
	id      int64
	label   uuid.UUID // log-correlation only, plays no role in selection
	channel RawChannel

	activeStreams atomic.Int64
}

func newChannelRef(id int64, channel RawChannel) *ChannelRef {
	return &ChannelRef{
		id:      id,
		label:   uuid.New(),
		channel: channel,
	}
}

// ID is the stable identifier used to break selection ties.
func (r *ChannelRef) ID() int64 { return r.id }

// Channel returns the underlying raw transport channel.
func (r *ChannelRef) Channel() RawChannel { return r.channel }

// StreamCount returns the current active-stream count.
func (r *ChannelRef) StreamCount() int64 { return r.activeStreams.Load() }

// StreamsIncr records one more open stream on this channel.
func (r *ChannelRef) StreamsIncr() { r.activeStreams.Add(1) }

// StreamsDecr records that a stream on this channel closed. Decrementing
// past zero is a fatal programming error (a double-decrement bug) and
// panics with a CounterUnderflow PoolError after logging it.
func (r *ChannelRef) StreamsDecr() {
	if v := r.activeStreams.Add(-1); v < 0 {
		err := &PoolError{Kind: CounterUnderflow, Op: "ChannelRef.StreamsDecr",
			Err: fmt.Errorf("channel %d: stream count went negative (%d)", r.id, v)}
		logErrorf(r, "%v", err)
		panic(err)
	}
}

func (r *ChannelRef) String() string {
	return fmt.Sprintf("chanref[%d/%s]", r.id, r.label)
}
