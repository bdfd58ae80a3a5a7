package transport

// Signal is a capacity-1 wakeup channel: sending never blocks and never
// queues more than one pending wakeup, matching the "at least one wakeup
// per arrival, but coalesced" contract wait_for_event needs (spec §4.10,
// decided in SPEC_FULL.md §13 over a raw sync.Cond).
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() Signal {
	return Signal{ch: make(chan struct{}, 1)}
}

// Notify wakes a waiter without blocking. A pending, undelivered wakeup is
// not duplicated.
func (s Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Drain consumes a pending wakeup without blocking, returning whether one
// was pending. Used by edge-triggered waiters to make sure a stale wakeup
// from a previous iteration doesn't cause a spurious extra wake.
func (s Signal) Drain() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
