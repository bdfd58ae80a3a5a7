package wire

import (
	"fmt"

	"golang.org/x/net/ipv4"
)

// Frame is a PGM packet with its common header decoded. Payload is
// everything after the common header: the type-specific trailer followed
// by any application payload; handlers strip the trailer themselves
// (ParseODATATrailer and friends). Handlers (spec §4.4-§4.6) work from a
// Frame, not a raw byte slice.
type Frame struct {
	Header  Header
	Payload []byte

	// IfIndex is the interface the packet arrived on, recovered from
	// IP_PKTINFO/IPV6_PKTINFO ancillary data (spec §4.2). It is 0 when the
	// platform or socket didn't supply one.
	IfIndex int

	// Src is the source IP address of the datagram, independent of the
	// TSI/GSI carried in the PGM header.
	Src []byte
}

// ParseRaw decodes a PGM packet received on a raw IP socket, where data is
// the IP payload (the IP header has already been stripped by the kernel or
// by ipv4.RawConn.ReadFrom) and cm carries PKTINFO ancillary data. Raw-IP
// framing carries the PGM common header directly at offset 0 (spec §4.2's
// "raw-IP variant"), unlike UDP encapsulation which has a 4-byte prefix.
func ParseRaw(data []byte, cm *ipv4.ControlMessage) (Frame, error) {
	if !VerifyChecksum(data) {
		return Frame{}, ErrChecksum
	}
	h, rest, err := ParseCommonHeader(data)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: parse raw frame: %w", err)
	}
	f := Frame{Header: h, Payload: rest}
	if cm != nil {
		f.IfIndex = cm.IfIndex
		f.Src = cm.Src
	}
	return f, nil
}

// ErrChecksum is returned by ParseRaw/ParseUDPEncap when a packet
// fails checksum validation. Classification never runs on a packet that
// fails this check (spec §4.3 precondition).
var ErrChecksum = fmt.Errorf("wire: checksum mismatch")

// ErrNoPKTINFO is returned by ParseUDPEncap when the socket supplied no
// PKTINFO ancillary data, leaving the packet with no recoverable
// destination (spec §4.1).
var ErrNoPKTINFO = fmt.Errorf("wire: no PKTINFO control message")
