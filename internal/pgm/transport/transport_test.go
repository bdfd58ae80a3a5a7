package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// fakeSocket replays a fixed queue of datagrams, then blocks until closed,
// the same role a fake net.PacketConn plays in mcastrelay's listener tests.
type fakeSocket struct {
	mu        sync.Mutex
	datagrams [][]byte
	idx       int
	closed    chan struct{}
	deadline  time.Time
}

func newFakeSocket(datagrams [][]byte) *fakeSocket {
	return &fakeSocket{datagrams: datagrams, closed: make(chan struct{})}
}

func (f *fakeSocket) ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error) {
	f.mu.Lock()
	if f.idx < len(f.datagrams) {
		d := f.datagrams[f.idx]
		f.idx++
		n := copy(b, d)
		f.mu.Unlock()
		return n, &ipv4.ControlMessage{IfIndex: 1}, nil, nil
	}
	deadline := f.deadline
	f.mu.Unlock()

	if !deadline.IsZero() {
		select {
		case <-f.closed:
			return 0, nil, nil, net.ErrClosed
		case <-time.After(time.Until(deadline)):
			return 0, nil, nil, fakeTimeoutError{}
		}
	}
	<-f.closed
	return 0, nil, nil, net.ErrClosed
}

// SetReadDeadline records the deadline the next blocking ReadFrom should
// honor; RecvMsgV calls this ahead of every poll the same way a real
// net.Conn's deadline bounds a blocking read (spec §4.9 step 3, §4.10).
func (f *fakeSocket) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeSocket) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// fakeTimeoutError satisfies net.Error with Timeout()==true, the same
// signal a real deadline-exceeded read reports.
type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "fake socket: i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func buildTestODATA(t *testing.T, gsiByte byte, srcPort, destPort uint16, seq uint32, payload []byte) []byte {
	t.Helper()
	common := make([]byte, wire.CommonHeaderLen+8+len(payload))
	common[0], common[1] = byte(srcPort>>8), byte(srcPort)
	common[2], common[3] = byte(destPort>>8), byte(destPort)
	common[4] = 0x00 // ODATA
	for i := 8; i < 14; i++ {
		common[i] = gsiByte
	}
	common[16], common[17], common[18], common[19] = byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq)
	copy(common[wire.CommonHeaderLen+8:], payload)

	zeroed := make([]byte, len(common))
	copy(zeroed, common)
	zeroed[6], zeroed[7] = 0, 0
	sum := wire.Checksum(zeroed)
	common[6], common[7] = byte(sum>>8), byte(sum)

	framed := make([]byte, 4+len(common))
	copy(framed[4:], common)
	return framed
}

func newTestTransport(t *testing.T, sock socketReader) *Transport {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.Registry = prometheus.NewRegistry()
	tr := New(cfg)
	tr.conn = sock
	return tr
}

func TestTransportDeliversContiguousODATA(t *testing.T) {
	p0 := buildTestODATA(t, 0xAA, 5000, 7500, 0, []byte("hello"))
	p1 := buildTestODATA(t, 0xAA, 5000, 7500, 1, []byte("world"))
	sock := newFakeSocket([][]byte{p0, p1})
	tr := newTestTransport(t, sock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sock.Close()

	msg1, err := tr.RecvMsg(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg1.Data))

	msg2, err := tr.RecvMsg(ctx)
	require.NoError(t, err)
	require.Equal(t, "world", string(msg2.Data))
}

func TestTransportDiscardsBadChecksum(t *testing.T) {
	p0 := buildTestODATA(t, 0xBB, 5001, 7500, 0, []byte("x"))
	p0[len(p0)-1] ^= 0xff // corrupt payload after checksum computed
	sock := newFakeSocket([][]byte{p0})
	tr := newTestTransport(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	defer sock.Close()

	_, err := tr.RecvMsg(ctx)
	require.Error(t, err) // context deadline, nothing ever delivered

	// A pure receive-path endpoint (CanSendData false, the default) counts
	// the failure as a receiver discard, not a SOURCE_* counter (spec §7,
	// testable property 9).
	require.Equal(t, float64(1), testutil.ToFloat64(tr.Stats().ReceiverPacketsDiscarded))
	require.Equal(t, float64(0), testutil.ToFloat64(tr.Stats().SourceChecksumErrors))
}

func TestTransportDiscardsBadChecksumAsSourceWhenCanSendData(t *testing.T) {
	p0 := buildTestODATA(t, 0xBD, 5001, 7500, 0, []byte("x"))
	p0[len(p0)-1] ^= 0xff // corrupt payload after checksum computed
	sock := newFakeSocket([][]byte{p0})

	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.Registry = prometheus.NewRegistry()
	cfg.CanSendData = true
	tr := New(cfg)
	tr.conn = sock

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	defer sock.Close()

	_, err := tr.RecvMsg(ctx)
	require.Error(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(tr.Stats().SourceChecksumErrors))
	require.Equal(t, float64(0), testutil.ToFloat64(tr.Stats().ReceiverPacketsDiscarded))
}

func TestTransportHoldsOnGapThenDeliversOnRepair(t *testing.T) {
	p0 := buildTestODATA(t, 0xCC, 5002, 7500, 0, []byte("a"))
	p2 := buildTestODATA(t, 0xCC, 5002, 7500, 2, []byte("c"))
	p1 := buildTestODATA(t, 0xCC, 5002, 7500, 1, []byte("b")) // RDATA-style repair
	sock := newFakeSocket([][]byte{p0, p2, p1})
	tr := newTestTransport(t, sock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sock.Close()

	got := []string{}
	for i := 0; i < 3; i++ {
		msg, err := tr.RecvMsg(ctx)
		require.NoError(t, err)
		got = append(got, string(msg.Data))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}
