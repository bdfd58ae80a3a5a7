package transport

import (
	"sync"
	"time"

	"github.com/dewetron/pgmrecv/internal/pgm/classify"
	"github.com/dewetron/pgmrecv/internal/pgm/window"
	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// peerState is everything the dispatcher tracks about one originating
// session, keyed by TSI (spec §3's "Peer state"). Its own fields are
// protected by mu, separate from the table's lock, so flushing one peer's
// pending data never blocks lookups or inserts of another peer.
type peerState struct {
	mu sync.Mutex

	tsi        wire.TSI
	lastSeenAt time.Time
	window     *window.SequencedWindow
	role       classify.Direction

	// pendingSince is not set or read by the dispatcher; membership in
	// the table's pending list (spec §4.7) is tracked by peerTable.pending
	// through markPending/clearPending.
	pendingSince time.Time

	// retryScheduled and retryAttempts track this peer's outstanding NAK
	// retransmission retry in the timer wheel (spec §4.9 step 3), used to
	// declare a gap unrecoverable once the retry budget is exhausted (spec
	// §4.8, §7).
	retryScheduled bool
	retryAttempts  int
}

func newPeerState(tsi wire.TSI, role classify.Direction) *peerState {
	return &peerState{
		tsi:    tsi,
		window: window.NewSequencedWindow(),
		role:   role,
	}
}

func (p *peerState) touch(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeenAt = now
}

// peerTable is the TSI-keyed store described in spec §4.7: lookups take a
// read lock, insertion takes a write lock guarded by a double-checked
// lookup so two concurrent first-sight packets for the same TSI don't
// create two peerStates (spec §3 invariant: unique TSIs).
type peerTable struct {
	mu    sync.RWMutex
	peers map[wire.TSI]*peerState

	// pendingMu guards pending, the set of peers with undelivered
	// contiguous data, consulted by the pending-delivery flush (spec
	// §4.7) without walking the whole table.
	pendingMu sync.Mutex
	pending   map[wire.TSI]struct{}
}

func newPeerTable() *peerTable {
	return &peerTable{
		peers:   make(map[wire.TSI]*peerState),
		pending: make(map[wire.TSI]struct{}),
	}
}

// lookup returns the existing peerState for tsi, if any, without creating
// one.
func (t *peerTable) lookup(tsi wire.TSI) (*peerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[tsi]
	return p, ok
}

// getOrCreate returns the peerState for tsi, creating one with role if it
// doesn't exist yet. The double lookup avoids holding the write lock for
// the common case where the peer already exists.
func (t *peerTable) getOrCreate(tsi wire.TSI, role classify.Direction) *peerState {
	if p, ok := t.lookup(tsi); ok {
		return p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[tsi]; ok {
		return p
	}
	p := newPeerState(tsi, role)
	t.peers[tsi] = p
	return p
}

// has reports whether tsi is a known session, for classify.LocalIdentity.
func (t *peerTable) has(tsi wire.TSI) bool {
	_, ok := t.lookup(tsi)
	return ok
}

// markPending records tsi as having undelivered contiguous data ready.
func (t *peerTable) markPending(tsi wire.TSI) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.pending[tsi] = struct{}{}
}

// clearPending removes tsi from the pending set, called once its window
// has been fully drained.
func (t *peerTable) clearPending(tsi wire.TSI) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	delete(t.pending, tsi)
}

// pendingTSIs returns a snapshot of peers with undelivered data, the input
// to the pending-delivery flush's sweep (spec §4.7).
func (t *peerTable) pendingTSIs() []wire.TSI {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	out := make([]wire.TSI, 0, len(t.pending))
	for tsi := range t.pending {
		out = append(out, tsi)
	}
	return out
}

// count returns the number of tracked peers, used by tests.
func (t *peerTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
