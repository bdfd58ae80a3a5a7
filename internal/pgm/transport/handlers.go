package transport

import (
	"time"

	"github.com/dewetron/pgmrecv/internal/pgm/classify"
	"github.com/dewetron/pgmrecv/internal/pgm/window"
	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// dispatch classifies f and routes it to the matching handler (spec
// §4.4-§4.6). now is threaded through rather than read from the clock
// directly so tests can drive it deterministically.
func (t *Transport) dispatch(f wire.Frame, now time.Time) {
	dir := classify.Classify(f.Header, t)

	switch dir {
	case classify.Downstream:
		t.handleDownstream(f, now)
	case classify.UpstreamSelf:
		t.handleUpstream(f, now)
	case classify.Peer:
		t.handlePeer(f, now)
	default:
		t.stats.SourcePacketsDiscarded.Inc()
	}
}

// handleDownstream processes ODATA/RDATA/NCF/SPM from a source this
// endpoint receives from (spec §4.4). Only a packet whose destination port
// matches this endpoint's configured data destination port, with
// can_recv_data set, is ever admitted; everything else is discarded before
// the peer table is touched at all (spec §3's invariant: only downstream
// traffic that clears these preconditions may create a new peer entry).
func (t *Transport) handleDownstream(f wire.Frame, now time.Time) {
	if !t.cfg.CanRecvData || f.Header.DestPort != t.SelfPort() {
		t.stats.ReceiverPacketsDiscarded.Inc()
		return
	}

	tsi := f.Header.SenderTSI()
	peer := t.peers.getOrCreate(tsi, classify.Downstream)
	peer.touch(now)

	switch f.Header.Type {
	case wire.TypeODATA, wire.TypeRDATA:
		trailer, payload, err := wire.ParseODATATrailer(f.Payload)
		if err != nil {
			t.stats.ReceiverPacketsDiscarded.Inc()
			return
		}
		t.admitFragment(peer, tsi, window.Fragment{Sequence: trailer.Sequence, Data: payload}, now)
	case wire.TypeNCF:
		if _, _, err := wire.ParseNCFTrailer(f.Payload); err != nil {
			t.stats.ReceiverPacketsDiscarded.Inc()
			return
		}
		// NCF confirms a prior NAK; cancel any outstanding retry this
		// peer has scheduled in the timer wheel (spec §4.9's NCF/retry
		// interaction).
		t.cancelRetry(tsi, peer)
	case wire.TypeSPM:
		if _, _, err := wire.ParseSPMTrailer(f.Payload); err != nil {
			t.stats.ReceiverPacketsDiscarded.Inc()
			return
		}
		// SPM advances the session's known leading/trailing edges; this
		// reference implementation tracks liveness only (peer.touch
		// above) and leaves window advancement to actual data packets.
	default:
		t.stats.ReceiverPacketsDiscarded.Inc()
	}
}

func (t *Transport) admitFragment(peer *peerState, tsi wire.TSI, frag window.Fragment, now time.Time) {
	peer.mu.Lock()
	peer.window.Append(frag)
	ready := peer.window.HasPending()
	peer.mu.Unlock()

	if ready {
		t.peers.markPending(tsi)
		t.notify.Notify()
	}
	t.stats.ReceiverBytesReceived.Add(float64(len(frag.Data)))
}

// handleUpstream processes NAK/NNAK whose destination port landed on this
// endpoint's own source port (spec §4.5). It never touches the peer table:
// NAK/NNAK/SPMR traffic routes to source-side protocol handling, not the
// receive peer table (spec §3's invariant, testable property 10). A packet
// here whose GSI doesn't actually match a source we transmit under, or that
// arrives while this endpoint isn't configured to send data at all, is a
// counted discard rather than silently accepted. A full retransmission
// source isn't in scope (Non-goal); this reference implementation only
// accounts for the NAK and leaves the repair send path to the caller's own
// source component.
func (t *Transport) handleUpstream(f wire.Frame, now time.Time) {
	tsi := f.Header.SenderTSI()
	if !t.cfg.CanSendData || !t.OwnsTSI(tsi) {
		t.stats.SourcePacketsDiscarded.Inc()
		return
	}
	t.stats.NAKsSent.Inc()
}

// handlePeer processes NAK/SPMR traffic about a session this endpoint only
// observes (spec §4.6). It only looks up an existing entry and never
// creates one: peer-to-peer traffic for an unknown subject TSI is
// discarded, not used to start tracking a new peer (spec §3's invariant,
// testable property 10, scenarios S4/S5).
func (t *Transport) handlePeer(f wire.Frame, now time.Time) {
	tsi := f.Header.SenderTSI()
	peer, ok := t.peers.lookup(tsi)
	if !ok {
		t.stats.SourcePacketsDiscarded.Inc()
		return
	}
	peer.touch(now)
}

// flushPending implements the pending-delivery flush (spec §4.7): for
// every peer marked pending, drain its window's contiguous prefix into the
// delivered queue. A peer whose window still has a gap after draining gets
// (or keeps) a NAK retry scheduled in the timer wheel; once the gap closes,
// any outstanding retry is cancelled.
func (t *Transport) flushPending(now time.Time) {
	for _, tsi := range t.peers.pendingTSIs() {
		peer, ok := t.peers.lookup(tsi)
		if !ok {
			t.peers.clearPending(tsi)
			continue
		}

		peer.mu.Lock()
		frags := peer.window.DrainContiguous()
		gap := peer.window.HasPending()
		peer.mu.Unlock()

		if len(frags) > 0 {
			t.deliver(tsi, frags, now)
		}

		if gap {
			t.ensureRetryScheduled(tsi, peer)
		} else {
			t.cancelRetry(tsi, peer)
			t.peers.clearPending(tsi)
		}
	}
}

func (t *Transport) deliver(tsi wire.TSI, frags []window.Fragment, now time.Time) {
	t.deliveredMu.Lock()
	defer t.deliveredMu.Unlock()
	for _, f := range frags {
		t.delivered = append(t.delivered, apduView{
			TSI:       tsi,
			FirstSeq:  f.Sequence,
			LastSeq:   f.Sequence,
			Data:      f.Data,
			Delivered: now,
		})
	}
	t.notify.Notify()
}

// ensureRetryScheduled schedules tsi's next NAK retry in the timer wheel
// (spec §4.9 step 3) if one isn't already outstanding.
func (t *Transport) ensureRetryScheduled(tsi wire.TSI, peer *peerState) {
	peer.mu.Lock()
	already := peer.retryScheduled
	peer.retryScheduled = true
	peer.mu.Unlock()
	if already {
		return
	}

	key := tsi.String()
	t.retryMu.Lock()
	t.retryIndex[key] = tsi
	t.retryMu.Unlock()
	t.timer.Prepare(key)
}

// cancelRetry clears any outstanding NAK retry for tsi, e.g. once a repair
// closes the gap or an NCF cancels it.
func (t *Transport) cancelRetry(tsi wire.TSI, peer *peerState) {
	peer.mu.Lock()
	peer.retryScheduled = false
	peer.retryAttempts = 0
	peer.mu.Unlock()

	key := tsi.String()
	t.timer.Reset(key)
	t.retryMu.Lock()
	delete(t.retryIndex, key)
	t.retryMu.Unlock()
}

// onTimerExpire is invoked by the ingest loop's timer dispatch (spec §4.9
// step 3) when a scheduled NAK retry deadline elapses. It counts the
// attempt and, once the retry budget (cfg.NAKMaxRetries) is exhausted,
// declares the gap unrecoverable: the window is force-advanced past it
// (window.SkipTo), the loss is counted (stats.UnrecoverableLoss), and the
// endpoint latches into its reset state (spec §4.8, §7, scenario S3) —
// without a retransmission source to re-request from, no further progress
// on any session is possible once one gap can never close.
func (t *Transport) onTimerExpire(id string) {
	t.retryMu.Lock()
	tsi, ok := t.retryIndex[id]
	t.retryMu.Unlock()
	if !ok {
		return
	}
	peer, ok := t.peers.lookup(tsi)
	if !ok {
		return
	}

	peer.mu.Lock()
	peer.retryAttempts++
	attempts := peer.retryAttempts
	gap := peer.window.HasPending()
	peer.mu.Unlock()

	if !gap {
		t.cancelRetry(tsi, peer)
		return
	}

	if attempts < t.cfg.NAKMaxRetries {
		t.timer.Prepare(id) // back off and retry again
		return
	}

	peer.mu.Lock()
	missing := peer.window.UnrecoverableLoss()
	if len(missing) > 0 {
		peer.window.SkipTo(missing[len(missing)-1] + 1)
	}
	frags := peer.window.DrainContiguous()
	stillPending := peer.window.HasPending()
	peer.mu.Unlock()

	if len(missing) > 0 {
		t.stats.UnrecoverableLoss.Add(float64(len(missing)))
	}
	if len(frags) > 0 {
		t.deliver(tsi, frags, t.clock.Now())
	}
	t.cancelRetry(tsi, peer)
	if !stillPending {
		t.peers.clearPending(tsi)
	}

	t.latchReset()
}
