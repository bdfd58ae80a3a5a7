package transport

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// recvOne performs a single recv_one syscall-level read (spec §4.8): it
// reads one datagram off the socket, decodes it according to the
// configured framing, and returns the resulting Frame, or an error
// classified into the BADF/FAULT/INTR/INVAL/NOMEM/CONNRESET/FAILED
// taxonomy (spec §7).
func (t *Transport) recvOne(buf []byte) (wire.Frame, error) {
	n, cm, _, err := t.conn.ReadFrom(buf)
	if err != nil {
		return wire.Frame{}, newError("recv_one", classifyReadError(err), err)
	}
	data := buf[:n]

	switch t.cfg.Framing {
	case FramingUDPEncap:
		f, err := wire.ParseUDPEncap(data, cm)
		if err != nil {
			return wire.Frame{}, t.parseFailure(err)
		}
		return copyPayload(f), nil
	case FramingRawIP:
		f, err := wire.ParseRaw(data, cm)
		if err != nil {
			return wire.Frame{}, t.parseFailure(err)
		}
		return copyPayload(f), nil
	default:
		return wire.Frame{}, newError("recv_one", KindINVAL, nil)
	}
}

// copyPayload detaches a Frame's payload from the shared read buffer,
// which recvOne reuses across loop iterations, so data handed to the
// window survives past the next read.
func copyPayload(f wire.Frame) wire.Frame {
	data := make([]byte, len(f.Payload))
	copy(data, f.Payload)
	f.Payload = data
	return f
}

// parseFailure attributes a malformed or checksum-failing packet, gating
// the SOURCE_* counters on can_send_data (spec §7, testable property 9):
// this endpoint only attributes parse failures to SOURCE_CKSUM_ERRORS/
// SOURCE_PACKETS_DISCARDED when it is itself configured as a source; a
// pure receive-path endpoint counts the same failure as a
// RECEIVER_PACKETS_DISCARDED instead.
func (t *Transport) parseFailure(err error) error {
	switch {
	case errors.Is(err, wire.ErrChecksum):
		if t.cfg.CanSendData {
			t.stats.SourceChecksumErrors.Inc()
		} else {
			t.stats.ReceiverPacketsDiscarded.Inc()
		}
	default:
		if t.cfg.CanSendData {
			t.stats.SourcePacketsDiscarded.Inc()
		} else {
			t.stats.ReceiverPacketsDiscarded.Inc()
		}
	}
	return newError("recv_one", KindINVAL, err)
}

// classifyReadError maps a socket read error to the transport's Kind
// taxonomy, checking the common net.Error/syscall.Errno cases the way a
// BSD-style recv wrapper would check errno.
func classifyReadError(err error) Kind {
	switch {
	case errors.Is(err, net.ErrClosed):
		return KindBADF
	case errors.Is(err, unix.EINTR):
		return KindINTR
	case errors.Is(err, unix.ENOMEM):
		return KindNOMEM
	case errors.Is(err, unix.ECONNRESET):
		return KindCONNRESET
	case errors.Is(err, unix.EFAULT):
		return KindFAULT
	case errors.Is(err, unix.EINVAL):
		return KindINVAL
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return KindFAILED
		}
		return KindFAILED
	}
}
