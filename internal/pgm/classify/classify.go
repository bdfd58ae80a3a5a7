// Package classify implements the total function that routes a decoded PGM
// frame to one of the dispatcher's three handler families, per the
// classifier design in spec §4.3 and the SPMR disambiguation rule in §4.9.
package classify

import "github.com/dewetron/pgmrecv/internal/pgm/wire"

// Direction is the outcome of classifying a frame against a local
// endpoint's own TSI and the port it is bound to.
type Direction uint8

const (
	// Downstream frames originate from a source this endpoint receives
	// from: ODATA, RDATA, NCF, SPM.
	Downstream Direction = iota
	// UpstreamSelf frames are NAKs/NNAKs whose destination port equals
	// this endpoint's own source port — the literal discriminator spec
	// §4.3 specifies (pkt.dport == self.tsi.sport), not a GSI/TSI-ownership
	// lookup. Whether the packet's GSI actually matches a source this
	// endpoint transmits under is a separate precondition the upstream
	// handler checks (spec §4.5); a mismatch there is a counted discard,
	// not a reclassification by this function.
	UpstreamSelf
	// Peer frames are NAK/SPMR traffic not addressed to this endpoint's
	// own source port, about a session already in its peer table.
	Peer
	// Unknown frames are well-formed but match none of the endpoint's
	// known sessions and are discarded (spec §7 SOURCE_PACKETS_DISCARDED).
	Unknown
)

func (d Direction) String() string {
	switch d {
	case Downstream:
		return "downstream"
	case UpstreamSelf:
		return "upstream_self"
	case Peer:
		return "peer"
	default:
		return "unknown"
	}
}

// LocalIdentity is what the classifier needs to know about the endpoint
// doing the classifying: the port it itself transmits under, and whether a
// given TSI is a session it already tracks.
type LocalIdentity interface {
	// SelfPort returns the source port this endpoint transmits under. A
	// NAK/NNAK whose destination port equals this is addressed to us as a
	// source (spec §4.3's literal discriminator), regardless of whose GSI
	// it carries.
	SelfPort() uint16
	// HasPeer reports whether tsi is a session this endpoint already
	// tracks in its peer table, as either a receive-side source or an
	// observed peer.
	HasPeer(tsi wire.TSI) bool
}

// Classify routes h to a Direction. It is total: every well-formed header
// maps to exactly one of the four directions, never an error — malformed
// framing is rejected earlier, at parse time (spec §4.3's "classifier never
// observes an invalid packet").
//
// Classify never creates or mutates any table; whether a Downstream result
// actually gets to create a new peer entry is a handler-level precondition
// (destination port match, can_recv_data — spec §4.4), not a classifier
// concern (spec §3's peer-table invariant).
func Classify(h wire.Header, local LocalIdentity) Direction {
	if h.Type.IsDownstream() {
		return Downstream
	}

	// SPMR requests a source poll response and is always peer-directed,
	// never upstream_self, regardless of destination port (spec §4.9).
	if h.Type == wire.TypeSPMR {
		if local.HasPeer(h.SenderTSI()) {
			return Peer
		}
		return Unknown
	}

	// POLL, POLR and any other type that is neither upstream nor peer are
	// not routed to a handler.
	if !h.Type.IsUpstreamOrPeer() {
		return Unknown
	}

	// NAK/NNAK: the destination port alone decides upstream_self vs peer
	// (spec §4.3). A NAK with our own port but a foreign GSI still lands
	// here as UpstreamSelf; the handler discards it instead of this
	// function silently routing it to Peer/Unknown. Only NAK is a peer
	// type, so an NNAK on another port is Unknown.
	if h.DestPort == local.SelfPort() {
		return UpstreamSelf
	}
	if h.Type.IsPeer() && local.HasPeer(h.SenderTSI()) {
		return Peer
	}
	return Unknown
}
