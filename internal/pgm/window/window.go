// Package window implements the receive window spec.md leaves as an
// interface: reassembling contiguous runs of ODATA/RDATA sequence numbers
// into deliverable APDUs and tracking unrecoverable gaps once retransmit
// attempts are exhausted. This is the "reference receive-window
// implementation" supplementing the spec per SPEC_FULL.md §12 — the spec
// itself only specifies the surface a window must expose to the pending-
// delivery flush (spec §4.7).
package window

import "sort"

// Fragment is one sequenced unit of application data, as handed to the
// window by a downstream handler after a successful ODATA/RDATA parse.
type Fragment struct {
	Sequence uint32
	Data     []byte
}

// SequencedWindow reassembles fragments into the contiguous prefix
// starting at the window's trailing edge, draining them in sequence order
// as gaps close. It is not safe for concurrent use; callers serialize
// access the same way the rest of a peer's state is serialized (spec §5).
type SequencedWindow struct {
	trailingEdge uint32
	initialized  bool
	pending      map[uint32]Fragment
}

// NewSequencedWindow creates an empty window. The trailing edge is set by
// the first fragment Append receives, mirroring how a PGM receiver learns
// a session's start sequence from its first observed packet rather than
// from a fixed value.
func NewSequencedWindow() *SequencedWindow {
	return &SequencedWindow{pending: make(map[uint32]Fragment)}
}

// Append admits a fragment into the window. Fragments behind the trailing
// edge are silently dropped as duplicates; a fragment at the trailing edge
// is the next expected one and is kept.
func (w *SequencedWindow) Append(f Fragment) {
	if !w.initialized {
		w.trailingEdge = f.Sequence
		w.initialized = true
	}
	if seqBefore(f.Sequence, w.trailingEdge) {
		return
	}
	w.pending[f.Sequence] = f
}

// HasPending reports whether the window holds any fragment, contiguous or
// not.
func (w *SequencedWindow) HasPending() bool {
	return len(w.pending) > 0
}

// DrainContiguous removes and returns, in order, every fragment starting
// at the trailing edge with no gap, advancing the trailing edge past the
// last one drained. An empty, non-nil slice is returned when there is
// nothing contiguous yet to deliver.
func (w *SequencedWindow) DrainContiguous() []Fragment {
	out := make([]Fragment, 0)
	for {
		f, ok := w.pending[w.trailingEdge]
		if !ok {
			break
		}
		out = append(out, f)
		delete(w.pending, w.trailingEdge)
		w.trailingEdge++
	}
	return out
}

// UnrecoverableLoss reports the sequence numbers still missing strictly
// before the lowest pending (non-contiguous) fragment, i.e. the gap a
// timed-out NAK could never close because a later repair already
// superseded it. Callers invoke this once a retry budget for the trailing
// gap is exhausted (spec §9's NAK lifecycle notes); it does not mutate the
// window.
func (w *SequencedWindow) UnrecoverableLoss() []uint32 {
	if len(w.pending) == 0 {
		return nil
	}
	seqs := make([]uint32, 0, len(w.pending))
	for seq := range w.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	lowest := seqs[0]
	if lowest <= w.trailingEdge {
		return nil
	}
	missing := make([]uint32, 0, lowest-w.trailingEdge)
	for s := w.trailingEdge; s < lowest; s++ {
		missing = append(missing, s)
	}
	return missing
}

// SkipTo force-advances the trailing edge to seq, discarding any pending
// fragments now behind it. Used once UnrecoverableLoss's range has been
// declared lost and delivery must resume past it.
func (w *SequencedWindow) SkipTo(seq uint32) {
	if seqBefore(seq, w.trailingEdge) {
		return
	}
	w.trailingEdge = seq
	for s := range w.pending {
		if seqBefore(s, w.trailingEdge) {
			delete(w.pending, s)
		}
	}
}

// seqBefore compares sequence numbers with wraparound, consistent with
// PGM's 32-bit sequence space: a is before b if the signed difference
// a-b is negative.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
