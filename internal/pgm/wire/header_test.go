package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/stretchr/testify/require"
)

func buildODATA(t *testing.T, tsi TSI, destPort uint16, seq uint32, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, CommonHeaderLen+dataTrailerLen+len(payload))
	buf[0], buf[1] = byte(tsi.Port>>8), byte(tsi.Port)
	buf[2], buf[3] = byte(destPort>>8), byte(destPort)
	buf[4] = byte(TypeODATA)
	buf[5] = 0
	copy(buf[8:14], tsi.GSI[:])
	buf[14], buf[15] = 0, 0
	buf[16], buf[17], buf[18], buf[19] = byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq)
	copy(buf[CommonHeaderLen+dataTrailerLen:], payload)
	want := Checksum(withZeroChecksum(buf))
	buf[6], buf[7] = byte(want>>8), byte(want)
	return buf
}

func withZeroChecksum(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	out[6], out[7] = 0, 0
	return out
}

func TestParseCommonHeaderRoundTrip(t *testing.T) {
	gsi := GSI{1, 2, 3, 4, 5, 6}
	tsi := TSI{GSI: gsi, Port: 4242}
	buf := buildODATA(t, tsi, 7070, 99, []byte("hello"))

	require.True(t, VerifyChecksum(buf))

	h, rest, err := ParseCommonHeader(buf)
	require.NoError(t, err)
	require.Equal(t, tsi, h.SenderTSI())
	require.Equal(t, TypeODATA, h.Type)
	require.Equal(t, uint16(7070), h.DestPort)

	trailer, payload, err := ParseODATATrailer(rest)
	require.NoError(t, err)
	require.Equal(t, uint32(99), trailer.Sequence)
	require.Equal(t, "hello", string(payload))
}

func TestParseCommonHeaderAgreesWithGopacketLayer(t *testing.T) {
	gsi := GSI{7, 7, 7, 7, 7, 7}
	tsi := TSI{GSI: gsi, Port: 9000}
	buf := buildODATA(t, tsi, 8080, 1, []byte("oracle"))

	want, _, err := ParseCommonHeader(buf)
	require.NoError(t, err)

	p := gopacket.NewPacket(buf, CommonHeaderLayerType, gopacket.Default)
	layer := p.Layer(CommonHeaderLayerType)
	require.NotNil(t, layer)
	got := layer.(*CommonHeaderLayer).Header

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gopacket-decoded header mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCommonHeaderTruncated(t *testing.T) {
	_, _, err := ParseCommonHeader(make([]byte, 4))
	require.Error(t, err)
}

func TestVerifyChecksumRejectsCorruption(t *testing.T) {
	gsi := GSI{9, 9, 9, 9, 9, 9}
	buf := buildODATA(t, TSI{GSI: gsi, Port: 1}, 2, 3, []byte("x"))
	buf[len(buf)-1] ^= 0xff
	require.False(t, VerifyChecksum(buf))
}

func TestTypeDirectionClassification(t *testing.T) {
	cases := []struct {
		typ                       Type
		downstream, upstream, peer bool
	}{
		{TypeODATA, true, false, false},
		{TypeRDATA, true, false, false},
		{TypeNCF, true, false, false},
		{TypeSPM, true, false, false},
		{TypeNAK, false, true, true},
		{TypeNNAK, false, true, false},
		{TypeSPMR, false, false, true},
	}
	for _, c := range cases {
		if got := c.typ.IsDownstream(); got != c.downstream {
			t.Errorf("%s.IsDownstream() = %v, want %v", c.typ, got, c.downstream)
		}
		if got := c.typ.IsUpstream(); got != c.upstream {
			t.Errorf("%s.IsUpstream() = %v, want %v", c.typ, got, c.upstream)
		}
		if got := c.typ.IsPeer(); got != c.peer {
			t.Errorf("%s.IsPeer() = %v, want %v", c.typ, got, c.peer)
		}
	}
}

func TestSPMTrailerRoundTrip(t *testing.T) {
	buf := make([]byte, spmTrailerLen)
	buf[3] = 10  // sequence = 10
	buf[7] = 20  // trailing edge = 20
	buf[11] = 30 // leading edge = 30
	copy(buf[12:16], []byte{192, 0, 2, 1})

	got, rest, err := ParseSPMTrailer(buf)
	require.NoError(t, err)
	require.Empty(t, rest)

	want := SPMTrailer{Sequence: 10, TrailingEdge: 20, LeadingEdge: 30, NLA: [4]byte{192, 0, 2, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SPM trailer mismatch (-want +got):\n%s", diff)
	}
}
