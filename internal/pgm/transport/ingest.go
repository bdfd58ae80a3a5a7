package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// Status is the outcome of a recvmsgv call (spec §4.9): whether it
// delivered data, would have blocked, observed end of stream, or failed.
type Status int

const (
	StatusNormal Status = iota
	StatusAgain
	StatusEOF
	StatusError
)

// pollInterval bounds how long a blocking recv_one waits when the timer
// wheel has nothing scheduled, so RecvMsgV's ctx.Done() check at the top of
// the loop is never stuck behind an indefinite socket read.
const pollInterval = 200 * time.Millisecond

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusAgain:
		return "AGAIN"
	case StatusEOF:
		return "EOF"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// RecvFlags mirrors the flags a BSD recvmsg(2) call takes, per spec §4.9.
type RecvFlags uint32

const (
	// FlagDontWait is MSG_DONTWAIT: return StatusAgain immediately rather
	// than blocking when nothing is ready (testable property 4).
	FlagDontWait RecvFlags = 1 << iota
	// FlagErrQueue is MSG_ERRQUEUE: reserved for retrieving queued error
	// notifications rather than data. This reference implementation has no
	// separate error queue to drain; it is accepted but has no effect.
	FlagErrQueue
)

// RecvMsgV is the dispatcher's core primitive (spec §4.9): it accepts a
// vector of Messages to fill, reads and classifies datagrams off the
// socket as needed, and returns how many messages it filled, the total
// bytes across them, and a {NORMAL, AGAIN, EOF, ERROR} status. recv/
// recvfrom/recvmsg (convenience.go) are layered strictly on top of this —
// they never touch the socket or the dispatcher directly.
//
// Calls are single-threaded-per-call: RecvMsgV serializes on an internal
// lock, the same cooperative model a single-threaded BSD socket API
// assumes of its caller.
func (t *Transport) RecvMsgV(ctx context.Context, msgv []Message, flags RecvFlags) (n int, bytesRead int, status Status, err error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	if t.resetLatched() {
		return 0, 0, StatusEOF, nil
	}

	if n, bytesRead, ok := t.tryDeliver(msgv); ok {
		return n, bytesRead, StatusNormal, nil
	}

	buf := make([]byte, t.cfg.BufferSize)

	if flags&FlagDontWait != 0 {
		serviced, perr := t.pollOnce(buf, time.Now())
		if perr != nil {
			if status, latch := t.classifyPollError(perr); status != StatusAgain {
				if latch {
					t.latchReset()
					return 0, 0, StatusEOF, nil
				}
				return 0, 0, status, perr
			}
		}
		if serviced {
			if n, bytesRead, ok := t.tryDeliver(msgv); ok {
				return n, bytesRead, StatusNormal, nil
			}
		}
		return 0, 0, StatusAgain, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, 0, StatusError, ctx.Err()
		default:
		}

		// Bound every blocking read so ctx cancellation is never stuck
		// behind an indefinite socket read: fall back to pollInterval
		// when the timer wheel has nothing scheduled.
		deadline := time.Now().Add(pollInterval)
		if d, ok := t.timer.Check(); ok && d < pollInterval {
			deadline = time.Now().Add(d)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}

		serviced, perr := t.pollOnce(buf, deadline)
		if perr != nil {
			status, latch := t.classifyPollError(perr)
			switch status {
			case StatusAgain:
				continue // INTR: retry the syscall
			default:
				if latch {
					t.latchReset()
					return 0, 0, StatusEOF, nil
				}
				return 0, 0, status, perr
			}
		}
		if !serviced {
			// No frame was processed (the read deadline elapsed or the
			// packet was discarded): fire any timer-wheel entries that
			// are due (spec §4.9 step 3).
			t.timer.Dispatch(time.Now(), t.onTimerExpire)
		}

		if n, bytesRead, ok := t.tryDeliver(msgv); ok {
			return n, bytesRead, StatusNormal, nil
		}
		if t.resetLatched() {
			return 0, 0, StatusEOF, nil
		}
	}
}

// pollOnce performs a single recv_one against the socket, bounded by
// deadline (zero means block indefinitely), and on success dispatches and
// flushes the resulting frame. It reports serviced=true only when a frame
// was actually read and processed; a deadline timeout is not an error.
// A malformed or checksum-failing packet (KindINVAL, already attributed to
// a counter by parseFailure) is a discard, not a fault: the next iteration
// just tries the following datagram rather than propagating the packet's
// own defect as a reason to stop calling recvmsgv entirely.
func (t *Transport) pollOnce(buf []byte, deadline time.Time) (serviced bool, err error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}

	frame, err := t.recvOne(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == KindINVAL {
			return false, nil
		}
		return false, err
	}

	now := t.clock.Now()
	t.dispatch(frame, now)
	t.flushPending(now)
	return true, nil
}

// classifyPollError maps a pollOnce error to a Status, plus whether it
// should latch the reset state. INTR is reported as StatusAgain purely as
// a "retry me" signal to RecvMsgV's caller, not MSG_DONTWAIT's AGAIN.
func (t *Transport) classifyPollError(err error) (status Status, latch bool) {
	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindINTR:
			return StatusAgain, false
		case KindBADF, KindCONNRESET:
			return StatusEOF, true
		}
	}
	return StatusError, false
}
