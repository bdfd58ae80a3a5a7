package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// Message is the application-facing delivered unit: payload bytes plus the
// TSI and sequence range they came from. recv/recvfrom/recvmsg (spec
// §4.12) are the convenience variants layered on top of RecvMsgV — they
// never read the socket or run the classifier themselves.
type Message struct {
	TSI      wire.TSI
	FirstSeq uint32
	LastSeq  uint32
	Data     []byte
}

// RecvMsg returns the next delivered APDU with full metadata, the most
// general of the three convenience variants (spec §4.12's recvmsg). It
// blocks until one message is available, the endpoint's reset state
// latches (returned as io.EOF), or ctx is cancelled.
func (t *Transport) RecvMsg(ctx context.Context) (Message, error) {
	var msgv [1]Message
	for {
		n, _, status, err := t.RecvMsgV(ctx, msgv[:], 0)
		if err != nil {
			return Message{}, err
		}
		switch status {
		case StatusNormal:
			if n > 0 {
				return msgv[0], nil
			}
		case StatusEOF:
			return Message{}, io.EOF
		}
		// StatusAgain never happens on a blocking call (flags=0); loop
		// defensively rather than assume it can't.
	}
}

// Recv copies the next delivered APDU's bytes into buf, the simplest of the
// three convenience variants, discarding TSI/sequence metadata (spec
// §4.12's recv). Truncation behaves exactly as RecvFrom's.
func (t *Transport) Recv(ctx context.Context, buf []byte) (int, error) {
	n, _, err := t.RecvFrom(ctx, buf)
	return n, err
}

// RecvFrom copies the next delivered APDU's bytes into buf along with the
// TSI it came from. If the APDU is larger than len(buf), the copy is
// truncated to buf's capacity and a diagnostic error is returned alongside
// the partial copy and the byte count actually written — spec §4.12's
// mandatory recvfrom truncation behavior, rather than silently dropping the
// excess or growing the caller's buffer for them.
func (t *Transport) RecvFrom(ctx context.Context, buf []byte) (n int, tsi wire.TSI, err error) {
	msg, err := t.RecvMsg(ctx)
	if err != nil {
		return 0, wire.TSI{}, err
	}
	n = copy(buf, msg.Data)
	if n < len(msg.Data) {
		t.log.Warn("recvfrom: truncated APDU", "tsi", msg.TSI.String(), "apdu_bytes", len(msg.Data), "buffer_bytes", len(buf))
		return n, msg.TSI, fmt.Errorf("pgm: recvfrom: truncated %d of %d bytes for %s", n, len(msg.Data), msg.TSI)
	}
	return n, msg.TSI, nil
}
