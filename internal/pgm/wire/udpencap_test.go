package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
)

func buildUDPEncapODATA(t *testing.T, tsi TSI, destPort uint16, seq uint32, payload []byte) []byte {
	t.Helper()
	inner := buildODATA(t, tsi, destPort, seq, payload)
	framed := make([]byte, udpEncapHeaderLen+len(inner))
	copy(framed[udpEncapHeaderLen:], inner)
	return framed
}

func TestParseUDPEncapRoundTrip(t *testing.T) {
	gsi := GSI{1, 1, 1, 1, 1, 1}
	tsi := TSI{GSI: gsi, Port: 5000}
	data := buildUDPEncapODATA(t, tsi, 7500, 42, []byte("payload"))

	f, err := ParseUDPEncap(data, &ipv4.ControlMessage{IfIndex: 3, Dst: []byte{239, 0, 0, 1}})
	require.NoError(t, err)
	require.Equal(t, tsi, f.Header.SenderTSI())
	require.Equal(t, 3, f.IfIndex)
	require.Equal(t, "payload", string(f.Payload[dataTrailerLen:]))
}

func TestParseUDPEncapRejectsMissingPKTINFO(t *testing.T) {
	gsi := GSI{2, 2, 2, 2, 2, 2}
	tsi := TSI{GSI: gsi, Port: 5001}
	data := buildUDPEncapODATA(t, tsi, 7500, 0, []byte("x"))

	_, err := ParseUDPEncap(data, nil)
	require.ErrorIs(t, err, ErrNoPKTINFO)
}

func TestParseUDPEncapRejectsTruncatedPrefix(t *testing.T) {
	_, err := ParseUDPEncap([]byte{0, 1}, &ipv4.ControlMessage{})
	require.Error(t, err)
}

func TestParseUDPEncapRejectsBadChecksum(t *testing.T) {
	gsi := GSI{3, 3, 3, 3, 3, 3}
	tsi := TSI{GSI: gsi, Port: 5002}
	data := buildUDPEncapODATA(t, tsi, 7500, 0, []byte("x"))
	data[len(data)-1] ^= 0xff

	_, err := ParseUDPEncap(data, &ipv4.ControlMessage{})
	require.ErrorIs(t, err, ErrChecksum)
}
