// Package wire decodes the PGM common header and its per-type trailers off
// the wire. It knows nothing about sockets, peers, or delivery order — it
// turns a byte slice into a validated Header plus whatever trailing payload
// is left, or returns an error describing why it couldn't.
package wire

import (
	"encoding/binary"
	"fmt"
)

// CommonHeaderLen is the size in bytes of the PGM common header shared by
// every packet type: source port, destination port, type, options,
// checksum, GSI, TSDU length.
const CommonHeaderLen = 16

// Type identifies the kind of a PGM packet, decoded from the low byte of
// the common header's type field.
type Type uint8

// Packet types. Values follow the PGM wire format (RFC 3208); POLL/POLR are
// decoded but POLR is always discarded by the classifier (spec §4.3).
const (
	TypeODATA Type = 0x00
	TypeRDATA Type = 0x01
	TypeNAK   Type = 0x02
	TypeNNAK  Type = 0x03
	TypeNCF   Type = 0x04
	TypeSPM   Type = 0x08
	TypeSPMR  Type = 0x0C
	TypePoll  Type = 0x0D
	TypePOLR  Type = 0x0E
)

func (t Type) String() string {
	switch t {
	case TypeODATA:
		return "ODATA"
	case TypeRDATA:
		return "RDATA"
	case TypeNAK:
		return "NAK"
	case TypeNNAK:
		return "NNAK"
	case TypeNCF:
		return "NCF"
	case TypeSPM:
		return "SPM"
	case TypeSPMR:
		return "SPMR"
	case TypePoll:
		return "POLL"
	case TypePOLR:
		return "POLR"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}

// IsDownstream reports whether t travels source -> receiver.
func (t Type) IsDownstream() bool {
	switch t {
	case TypeODATA, TypeRDATA, TypeNCF, TypeSPM:
		return true
	default:
		return false
	}
}

// IsUpstream reports whether t can target this endpoint as a source
// (receiver -> source).
func (t Type) IsUpstream() bool {
	switch t {
	case TypeNAK, TypeNNAK:
		return true
	default:
		return false
	}
}

// IsPeer reports whether t is a peer-to-peer message about a source this
// endpoint may only be observing, not sourcing.
func (t Type) IsPeer() bool {
	switch t {
	case TypeNAK, TypeSPMR:
		return true
	default:
		return false
	}
}

// IsUpstreamOrPeer is the disjunction the classifier actually needs for
// SPMR/NAK, which can be either depending on destination port and cast
// (spec §4.3, §9's "classifier ambiguity for SPMR").
func (t Type) IsUpstreamOrPeer() bool {
	return t.IsUpstream() || t.IsPeer()
}

// GSI is the 48-bit Global Session Identifier.
type GSI [6]byte

func (g GSI) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x", g[0], g[1], g[2], g[3], g[4], g[5])
}

// TSI is the Transport Session Identifier: a GSI paired with the source
// port of the sender. It is comparable and used directly as the peer-table
// key (spec §3 invariant: "Peer table keys are unique TSIs").
type TSI struct {
	GSI  GSI
	Port uint16
}

func (t TSI) String() string {
	return fmt.Sprintf("%s.%d", t.GSI, t.Port)
}

// Header is the decoded PGM common header. A Header inside a Frame from
// ParseRaw or ParseUDPEncap has had its checksum validated;
// ParseCommonHeader alone does not validate it.
type Header struct {
	SourcePort  uint16
	DestPort    uint16
	Type        Type
	Options     uint8
	Checksum    uint16
	GSI         GSI
	TSDULength  uint16
}

// SenderTSI is the TSI of the packet's originator.
func (h Header) SenderTSI() TSI {
	return TSI{GSI: h.GSI, Port: h.SourcePort}
}

// hasOptions reports whether the option-extensions bit is set. This
// implementation does not walk option TLVs (see SPEC_FULL.md §12); it is
// enough to classify and strip the fixed-size trailers the spec's handlers
// need.
func (h Header) hasOptions() bool {
	return h.Options&0x01 != 0
}

// ParseCommonHeader decodes the fixed 16-byte common header from the front
// of data. It does not validate the checksum — callers validate once over
// the whole framed packet, since the raw-IP and UDP-encap framings disagree
// about what "the whole packet" includes (spec §4.2).
func ParseCommonHeader(data []byte) (Header, []byte, error) {
	if len(data) < CommonHeaderLen {
		return Header{}, nil, fmt.Errorf("wire: truncated common header: %d bytes, want %d", len(data), CommonHeaderLen)
	}
	var h Header
	h.SourcePort = binary.BigEndian.Uint16(data[0:2])
	h.DestPort = binary.BigEndian.Uint16(data[2:4])
	h.Type = Type(data[4])
	h.Options = data[5]
	h.Checksum = binary.BigEndian.Uint16(data[6:8])
	copy(h.GSI[:], data[8:14])
	h.TSDULength = binary.BigEndian.Uint16(data[14:16])
	return h, data[CommonHeaderLen:], nil
}

// DataTrailer is the sequence/trailing-edge pair common to ODATA, RDATA and
// NCF.
type DataTrailer struct {
	Sequence     uint32
	TrailingEdge uint32
}

const dataTrailerLen = 8

func parseDataTrailer(data []byte) (DataTrailer, []byte, error) {
	if len(data) < dataTrailerLen {
		return DataTrailer{}, nil, fmt.Errorf("wire: truncated data trailer: %d bytes, want %d", len(data), dataTrailerLen)
	}
	return DataTrailer{
		Sequence:     binary.BigEndian.Uint32(data[0:4]),
		TrailingEdge: binary.BigEndian.Uint32(data[4:8]),
	}, data[dataTrailerLen:], nil
}

// ParseODATATrailer strips the ODATA/RDATA trailer, returning the trailer
// and the remaining application payload.
func ParseODATATrailer(data []byte) (DataTrailer, []byte, error) {
	return parseDataTrailer(data)
}

// NCFTrailer is the NCF-specific trailer: the acknowledged sequence and
// trailing edge, plus the group NLA the NCF was observed on.
type NCFTrailer struct {
	DataTrailer
	GroupNLA [4]byte
}

const ncfTrailerLen = dataTrailerLen + 4

// ParseNCFTrailer strips the NCF trailer.
func ParseNCFTrailer(data []byte) (NCFTrailer, []byte, error) {
	dt, rest, err := parseDataTrailer(data)
	if err != nil {
		return NCFTrailer{}, nil, err
	}
	if len(rest) < 4 {
		return NCFTrailer{}, nil, fmt.Errorf("wire: truncated NCF trailer: %d bytes, want 4", len(rest))
	}
	var nla [4]byte
	copy(nla[:], rest[:4])
	return NCFTrailer{DataTrailer: dt, GroupNLA: nla}, rest[4:], nil
}

// SPMTrailer is the SPM trailer: sequence, trailing/leading edges and the
// source's NLA.
type SPMTrailer struct {
	Sequence     uint32
	TrailingEdge uint32
	LeadingEdge  uint32
	NLA          [4]byte
}

const spmTrailerLen = 16

// ParseSPMTrailer strips the SPM trailer.
func ParseSPMTrailer(data []byte) (SPMTrailer, []byte, error) {
	if len(data) < spmTrailerLen {
		return SPMTrailer{}, nil, fmt.Errorf("wire: truncated SPM trailer: %d bytes, want %d", len(data), spmTrailerLen)
	}
	t := SPMTrailer{
		Sequence:     binary.BigEndian.Uint32(data[0:4]),
		TrailingEdge: binary.BigEndian.Uint32(data[4:8]),
		LeadingEdge:  binary.BigEndian.Uint32(data[8:12]),
	}
	copy(t.NLA[:], data[12:16])
	return t, data[spmTrailerLen:], nil
}

// NAKTrailer is the trailer shared by NAK and NNAK: the sequence being
// negatively acknowledged plus the source and group NLAs.
type NAKTrailer struct {
	Sequence uint32
	SourceNLA [4]byte
	GroupNLA  [4]byte
}

const nakTrailerLen = 12

// ParseNAKTrailer strips the NAK/NNAK trailer.
func ParseNAKTrailer(data []byte) (NAKTrailer, []byte, error) {
	if len(data) < nakTrailerLen {
		return NAKTrailer{}, nil, fmt.Errorf("wire: truncated NAK trailer: %d bytes, want %d", len(data), nakTrailerLen)
	}
	var t NAKTrailer
	t.Sequence = binary.BigEndian.Uint32(data[0:4])
	copy(t.SourceNLA[:], data[4:8])
	copy(t.GroupNLA[:], data[8:12])
	return t, data[nakTrailerLen:], nil
}
