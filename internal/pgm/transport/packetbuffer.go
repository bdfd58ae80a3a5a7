package transport

import (
	"time"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// PacketBuffer describes a single received datagram (spec §3's "Packet
// buffer"): the raw bytes, when they arrived, and which interface they
// arrived on. The receive path does not use it: recvOne parses the socket
// buffer directly into a wire.Frame.
type PacketBuffer struct {
	Data       []byte
	ReceivedAt time.Time
	IfIndex    int
	Src        []byte
}

// apduView is the reassembled application view handed to a waiter once a
// peer's window has a contiguous run ready (spec §3's "APDU message
// view"): the originating TSI, the sequence range it spans, and the bytes.
type apduView struct {
	TSI       wire.TSI
	FirstSeq  uint32
	LastSeq   uint32
	Data      []byte
	Delivered time.Time
}
