package chanpool

import "sync"

// AffinityIndex is a bidirectional mapping between affinity keys and
// ChannelRefs. Every key present in the forward map has the same
// ChannelRef in the reverse map, and vice versa; no key is ever bound to
// more than one ChannelRef at a time.
//
// It is shared mutable state protected by a single mutex, same shape as
// rclone's backend/smb connection pool guarding its []*conn slice with
// one mutex - all operations here are O(1) expected.
type AffinityIndex struct {
	mu      sync.Mutex
	forward map[string]*ChannelRef
	reverse map[*ChannelRef]map[string]struct{}
}

func newAffinityIndex() *AffinityIndex {
	return &AffinityIndex{
		forward: make(map[string]*ChannelRef),
		reverse: make(map[*ChannelRef]map[string]struct{}),
	}
}

// Lookup returns the ChannelRef bound to key, if any.
func (a *AffinityIndex) Lookup(key string) (*ChannelRef, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ref, ok := a.forward[key]
	return ref, ok
}

// Bind associates key with ref. If key already maps to a different ref,
// the existing binding is overwritten (last-writer wins) and a warning is
// logged; the old ref's reverse entry for this key is removed so the
// reverse index stays minimal. Post-condition: Lookup(key) == ref.
func (a *AffinityIndex) Bind(ref *ChannelRef, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.forward[key]; ok && old != ref {
		logWarnf(a, "rebinding key %q from %s to %s", key, old, ref)
		if set := a.reverse[old]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(a.reverse, old)
			}
		}
	}

	a.forward[key] = ref
	set := a.reverse[ref]
	if set == nil {
		set = make(map[string]struct{})
		a.reverse[ref] = set
	}
	set[key] = struct{}{}
}

// Unbind removes the binding for key, if present. No-op if absent.
func (a *AffinityIndex) Unbind(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ref, ok := a.forward[key]
	if !ok {
		return
	}
	delete(a.forward, key)
	if set := a.reverse[ref]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(a.reverse, ref)
		}
	}
}

func (a *AffinityIndex) String() string { return "affinity-index" }
