package chanpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Options configures a ManagedChannelPool. There is no file/env/CLI
// surface for it - callers build Options in code and pass it to
// NewManagedChannelPool, which validates it immediately, the same
// discipline rclone's NewFs applies to its own Options right after
// configstruct.Set.
type Options struct {
	// MaxSize is the maximum number of ChannelRefs the pool will ever
	// hold. Must be >= 1.
	MaxSize int
	// LowWatermark is the stream-count threshold below which the
	// least-busy existing ChannelRef is reused; once every ref is at or
	// above it, an under-max-size pool is grown instead. Must be >= 0.
	LowWatermark int
	// NewChannel creates a fresh transport channel. Required.
	NewChannel RawChannelFactory
	// Extract pulls an affinity key out of a payload. Required.
	Extract PayloadExtractor
	// Affinity resolves per-method AffinityConfig. Required.
	Affinity AffinityRegistry
}

func (o Options) validate() error {
	if o.MaxSize < 1 {
		return &PoolError{Kind: InvalidConfig, Op: "NewManagedChannelPool",
			Err: fmt.Errorf("maxSize must be >= 1, got %d", o.MaxSize)}
	}
	if o.LowWatermark < 0 {
		return &PoolError{Kind: InvalidConfig, Op: "NewManagedChannelPool",
			Err: fmt.Errorf("lowWatermark must be >= 0, got %d", o.LowWatermark)}
	}
	if o.NewChannel == nil {
		return &PoolError{Kind: InvalidConfig, Op: "NewManagedChannelPool",
			Err: fmt.Errorf("NewChannel factory is required")}
	}
	if o.Extract == nil {
		return &PoolError{Kind: InvalidConfig, Op: "NewManagedChannelPool",
			Err: fmt.Errorf("Extract is required")}
	}
	if o.Affinity == nil {
		return &PoolError{Kind: InvalidConfig, Op: "NewManagedChannelPool",
			Err: fmt.Errorf("Affinity registry is required")}
	}
	return nil
}

// ManagedChannelPool owns a fixed-growable set of ChannelRefs, routes new
// calls to them by method affinity, and otherwise spreads calls by active
// stream count. Once the pool is at MaxSize the least-busy ref is reused
// with no per-channel stream limit.
type ManagedChannelPool struct {
	opts Options

	mu    sync.Mutex // guards refs; selection and growth happen under this lock
	refs  []*ChannelRef
	nextID atomic.Int64

	index *AffinityIndex
}

// NewManagedChannelPool validates opts and constructs an empty pool.
// ChannelRefs are created lazily on first use, not here.
func NewManagedChannelPool(opts Options) (*ManagedChannelPool, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &ManagedChannelPool{
		opts:  opts,
		index: newAffinityIndex(),
	}, nil
}

func (p *ManagedChannelPool) String() string { return "managed-channel-pool" }

// Size returns the current number of ChannelRefs. Always <= MaxSize.
func (p *ManagedChannelPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refs)
}

// NewCall returns a DeferredCall if method has an AffinityConfig, else a
// SimpleCall over the least-busy ChannelRef.
func (p *ManagedChannelPool) NewCall(ctx context.Context, method string, opts CallOptions) (Call, error) {
	if cfg, ok := p.opts.Affinity.MethodAffinity(method); ok {
		return newDeferredCall(ctx, p, method, opts, cfg), nil
	}
	ref, err := p.pickLeastBusy(ctx)
	if err != nil {
		return nil, err
	}
	inner, err := ref.Channel().NewCall(ctx, method, opts)
	if err != nil {
		return nil, &PoolError{Kind: TransportErrorKind, Op: "ManagedChannelPool.NewCall", Err: err}
	}
	return newSimpleCall(ref, inner), nil
}

// pickForKey returns key's bound ChannelRef if key is non-empty and
// bound, otherwise falls back to pickLeastBusy.
func (p *ManagedChannelPool) pickForKey(ctx context.Context, key string) (*ChannelRef, error) {
	if key != "" {
		if ref, ok := p.index.Lookup(key); ok {
			return ref, nil
		}
	}
	return p.pickLeastBusy(ctx)
}

// pickLeastBusy selects a ChannelRef by the following algorithm:
//  1. empty pool -> create and return a new ref.
//  2. find minRef, the ref with the smallest stream count (ties broken by
//     lowest id, which is stable since refs are appended in id order).
//  3. if minRef's count < LowWatermark, or the pool is already at
//     MaxSize, return minRef.
//  4. otherwise create a new ref, append it, return it.
func (p *ManagedChannelPool) pickLeastBusy(ctx context.Context) (*ChannelRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.refs) == 0 {
		return p.growLocked(ctx)
	}

	minRef := p.refs[0]
	minCount := minRef.StreamCount()
	for _, ref := range p.refs[1:] {
		if c := ref.StreamCount(); c < minCount {
			minRef, minCount = ref, c
		}
	}

	if minCount < int64(p.opts.LowWatermark) || len(p.refs) >= p.opts.MaxSize {
		return minRef, nil
	}
	return p.growLocked(ctx)
}

// growLocked creates a new ChannelRef, appends it, and returns it. Must
// be called with p.mu held.
func (p *ManagedChannelPool) growLocked(ctx context.Context) (*ChannelRef, error) {
	channel, err := p.opts.NewChannel(ctx)
	if err != nil {
		return nil, &PoolError{Kind: TransportErrorKind, Op: "ManagedChannelPool.growLocked", Err: err}
	}
	ref := newChannelRef(p.nextID.Add(1), channel)
	p.refs = append(p.refs, ref)
	logDebugf(p, "grew pool to %d channels (new %s)", len(p.refs), ref)
	return ref, nil
}

// bind delegates to the affinity index.
func (p *ManagedChannelPool) bind(ref *ChannelRef, key string) { p.index.Bind(ref, key) }

// unbind delegates to the affinity index.
func (p *ManagedChannelPool) unbind(key string) { p.index.Unbind(key) }

// extractKey looks up method's AffinityConfig and, if the direction
// matches (UNBIND/BOUND on request, BIND on response), applies the
// configured key path to message. An empty string or a missing field are
// both treated as "no key" - ("", false).
func (p *ManagedChannelPool) extractKey(message any, isRequest bool, method string) (string, bool) {
	cfg, ok := p.opts.Affinity.MethodAffinity(method)
	if !ok || cfg.KeyPath == "" {
		return "", false
	}
	wantsRequest := cfg.Command == UNBIND || cfg.Command == BOUND
	if wantsRequest != isRequest {
		return "", false
	}
	key, ok := p.opts.Extract(message, cfg.KeyPath)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Close closes every ChannelRef's underlying raw channel, fanning the
// work out over errgroup and waiting for all of them - same shape as the
// teacher's connpool.go:drainPool / filepool.go:drain.
func (p *ManagedChannelPool) Close(ctx context.Context) error {
	p.mu.Lock()
	refs := p.refs
	p.refs = nil
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			return ref.Channel().Close()
		})
	}
	return g.Wait()
}
