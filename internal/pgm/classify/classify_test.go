package classify

import (
	"testing"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	selfPort uint16
	peers    map[wire.TSI]bool
}

func (f fakeIdentity) SelfPort() uint16          { return f.selfPort }
func (f fakeIdentity) HasPeer(tsi wire.TSI) bool { return f.peers[tsi] }

func tsiFor(b byte, port uint16) wire.TSI {
	return wire.TSI{GSI: wire.GSI{b, b, b, b, b, b}, Port: port}
}

func TestClassifyDownstreamKnownPeer(t *testing.T) {
	tsi := tsiFor(1, 100)
	local := fakeIdentity{peers: map[wire.TSI]bool{tsi: true}}
	h := wire.Header{Type: wire.TypeODATA, GSI: tsi.GSI, SourcePort: tsi.Port}
	require.Equal(t, Downstream, Classify(h, local))
}

func TestClassifyDownstreamFirstSightSourceIsAccepted(t *testing.T) {
	tsi := tsiFor(2, 101)
	local := fakeIdentity{}
	h := wire.Header{Type: wire.TypeSPM, GSI: tsi.GSI, SourcePort: tsi.Port}
	require.Equal(t, Downstream, Classify(h, local))
}

func TestClassifyDownstreamIgnoresOwnSourcePort(t *testing.T) {
	// Downstream classification is unconditional on h.Type alone; whether
	// this happens to be our own transmitted data looping back is a
	// handler-level concern, not the classifier's (spec §3's peer-table
	// invariant lives in the handler, not here).
	tsi := tsiFor(7, 106)
	local := fakeIdentity{selfPort: tsi.Port}
	h := wire.Header{Type: wire.TypeODATA, GSI: tsi.GSI, SourcePort: tsi.Port}
	require.Equal(t, Downstream, Classify(h, local))
}

func TestClassifyNAKToOwnPort(t *testing.T) {
	tsi := tsiFor(3, 102)
	local := fakeIdentity{selfPort: 9000}
	h := wire.Header{Type: wire.TypeNAK, GSI: tsi.GSI, SourcePort: tsi.Port, DestPort: 9000}
	require.Equal(t, UpstreamSelf, Classify(h, local))
}

func TestClassifyNAKRightPortWrongGSIIsStillUpstreamSelf(t *testing.T) {
	// Port is the literal discriminator (spec §4.3): a NAK landing on our
	// own source port classifies as UpstreamSelf even when its GSI belongs
	// to a session we've never seen. The handler, not the classifier, is
	// where a GSI mismatch becomes a counted discard (spec §4.5).
	local := fakeIdentity{selfPort: 9000}
	h := wire.Header{Type: wire.TypeNAK, GSI: wire.GSI{9, 9, 9, 9, 9, 9}, SourcePort: 1, DestPort: 9000}
	require.Equal(t, UpstreamSelf, Classify(h, local))
}

func TestClassifyNAKAboutObservedPeer(t *testing.T) {
	tsi := tsiFor(4, 103)
	local := fakeIdentity{selfPort: 9000, peers: map[wire.TSI]bool{tsi: true}}
	h := wire.Header{Type: wire.TypeNAK, GSI: tsi.GSI, SourcePort: tsi.Port, DestPort: 555}
	require.Equal(t, Peer, Classify(h, local))
}

func TestClassifySPMRNeverUpstreamSelf(t *testing.T) {
	tsi := tsiFor(5, 104)
	local := fakeIdentity{selfPort: tsi.Port}
	h := wire.Header{Type: wire.TypeSPMR, GSI: tsi.GSI, SourcePort: tsi.Port, DestPort: tsi.Port}
	require.Equal(t, Unknown, Classify(h, local), "SPMR with no peer entry is unknown, never upstream_self, regardless of port")
}

func TestClassifySPMRObservedPeer(t *testing.T) {
	tsi := tsiFor(6, 105)
	local := fakeIdentity{peers: map[wire.TSI]bool{tsi: true}}
	h := wire.Header{Type: wire.TypeSPMR, GSI: tsi.GSI, SourcePort: tsi.Port}
	require.Equal(t, Peer, Classify(h, local))
}

func TestClassifyTotalOverAllTypes(t *testing.T) {
	allTypes := []wire.Type{
		wire.TypeODATA, wire.TypeRDATA, wire.TypeNAK, wire.TypeNNAK,
		wire.TypeNCF, wire.TypeSPM, wire.TypeSPMR, wire.TypePoll, wire.TypePOLR,
	}
	local := fakeIdentity{}
	for _, typ := range allTypes {
		d := Classify(wire.Header{Type: typ}, local)
		require.Contains(t, []Direction{Downstream, UpstreamSelf, Peer, Unknown}, d)
	}
}
