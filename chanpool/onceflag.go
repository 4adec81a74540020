package chanpool

import "sync/atomic"

// onceFlag is a CAS-on-boolean once-flag: trigger returns true exactly
// once, on whichever caller wins the race.
type onceFlag struct {
	done atomic.Bool
}

// trigger reports whether this call is the one that fires - true the
// first time, false on every subsequent call.
func (f *onceFlag) trigger() bool {
	return f.done.CompareAndSwap(false, true)
}
