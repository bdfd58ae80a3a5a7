package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/net/ipv4"

	"github.com/dewetron/pgmrecv/internal/pgm/classify"
	"github.com/dewetron/pgmrecv/internal/pgm/stats"
	"github.com/dewetron/pgmrecv/internal/pgm/timer"
	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

// socketReader is the narrow interface recvmsgv needs from an underlying
// connection, satisfied by *ipv4.PacketConn in production and a fake in
// tests — the same seam mcastrelay's listener keeps between Listener and
// net.UDPConn, and pim's RawConner interface keeps between Server and
// ipv4.RawConn. SetReadDeadline lets a blocking recv_one be bounded by the
// next scheduled timer expiration (spec §4.9 step 3, §4.10) without a
// second goroutine.
type socketReader interface {
	ReadFrom(b []byte) (n int, cm *ipv4.ControlMessage, src net.Addr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Transport is the receive-path dispatcher described in spec §3: it owns a
// socket, a peer table, and the classify/handler pipeline that turns
// arriving datagrams into delivered APDUs or discarded noise.
type Transport struct {
	cfg    *Config
	log    *slog.Logger
	clock  clockwork.Clock
	stats  *stats.Counters
	peers  *peerTable
	notify Signal
	timer  timer.Wheel

	callMu sync.Mutex // serializes recvmsgv: single-threaded-per-call (spec §4.9)

	ownedMu sync.RWMutex
	owned   map[wire.TSI]struct{}

	deliveredMu sync.Mutex
	delivered   []apduView

	retryMu    sync.Mutex
	retryIndex map[string]wire.TSI

	resetMu sync.Mutex
	isReset bool

	conn socketReader
}

// New constructs a Transport from cfg. It does not open a socket; call
// Listen to bind before reading.
func New(cfg *Config) *Transport {
	cfg = withDefaults(cfg)
	return &Transport{
		cfg:        cfg,
		log:        cfg.Logger,
		clock:      cfg.Clock,
		stats:      stats.NewCounters(cfg.Registry, "pgmrecv"),
		peers:      newPeerTable(),
		notify:     NewSignal(),
		timer:      timer.NewClockWheel(cfg.Clock, cfg.NAKInitialBackoff, cfg.NAKMaxBackoff),
		owned:      make(map[wire.TSI]struct{}),
		retryIndex: make(map[string]wire.TSI),
	}
}

// Listen opens and configures the receive socket per cfg.Framing, joining
// the multicast group for the UDP-encapsulated variant the way
// mcastrelay's createConnection does, or binding a raw IP socket for the
// PGM protocol-113 variant the way pim's server does.
func (t *Transport) Listen() error {
	switch t.cfg.Framing {
	case FramingUDPEncap:
		return t.listenUDP()
	case FramingRawIP:
		return t.listenRawIP()
	default:
		return newError("Listen", KindINVAL, fmt.Errorf("unknown framing %d", t.cfg.Framing))
	}
}

func (t *Transport) listenUDP() error {
	addr := &net.UDPAddr{IP: net.ParseIP(t.cfg.MulticastGroup), Port: t.cfg.Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return newError("Listen", classifyNetError(err), err)
	}
	p := ipv4.NewPacketConn(conn)

	var ifi *net.Interface
	if t.cfg.InterfaceName != "" {
		ifi, err = net.InterfaceByName(t.cfg.InterfaceName)
		if err != nil {
			conn.Close()
			return newError("Listen", KindINVAL, err)
		}
	}
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(t.cfg.MulticastGroup)}); err != nil {
		conn.Close()
		return newError("Listen", KindFAILED, err)
	}
	if err := p.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		t.log.Warn("failed to enable PKTINFO control messages", "error", err)
	}
	if err := conn.SetReadBuffer(t.cfg.SocketBufferSize); err != nil {
		t.log.Warn("failed to set socket receive buffer size", "requested", t.cfg.SocketBufferSize, "error", err)
	}
	t.conn = p
	return nil
}

func (t *Transport) listenRawIP() error {
	conn, err := net.ListenPacket("ip4:113", "0.0.0.0")
	if err != nil {
		return newError("Listen", classifyNetError(err), err)
	}
	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		conn.Close()
		return newError("Listen", KindFAILED, err)
	}
	t.conn = rawConnAdapter{raw}
	return nil
}

// rawConnAdapter adapts *ipv4.RawConn's ReadFrom (which returns an
// *ipv4.Header, not a net.Addr) to the socketReader interface by
// discarding the parsed IP header — raw.go works from the payload only.
type rawConnAdapter struct {
	raw *ipv4.RawConn
}

func (r rawConnAdapter) ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error) {
	_, payload, cm, err := r.raw.ReadFrom(b)
	if err != nil {
		return 0, nil, nil, err
	}
	n := copy(b, payload)
	return n, cm, nil, nil
}

func (r rawConnAdapter) SetReadDeadline(t time.Time) error { return r.raw.SetReadDeadline(t) }

func (r rawConnAdapter) Close() error { return r.raw.Close() }

// Close releases the underlying socket.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Stats exposes the transport's counters, e.g. for wiring a
// promhttp.Handler in cmd/pgmrecv.
func (t *Transport) Stats() *stats.Counters { return t.stats }

// RegisterSource marks tsi as a session this endpoint transmits under, so
// NAK/NNAK traffic classified as upstream_self and carrying tsi passes
// handleUpstream's ownership check instead of being discarded. The
// classifier itself does not consult it.
func (t *Transport) RegisterSource(tsi wire.TSI) {
	t.ownedMu.Lock()
	defer t.ownedMu.Unlock()
	t.owned[tsi] = struct{}{}
}

// OwnsTSI reports whether tsi is a source identity this endpoint transmits
// under. This is a handler-level check (spec §4.5), not part of
// classify.LocalIdentity: the classifier itself discriminates upstream_self
// from peer purely by destination port (spec §4.3).
func (t *Transport) OwnsTSI(tsi wire.TSI) bool {
	t.ownedMu.RLock()
	defer t.ownedMu.RUnlock()
	_, ok := t.owned[tsi]
	return ok
}

// SelfPort implements classify.LocalIdentity: the port this endpoint's own
// source traffic (and NAKs addressed to it) uses.
func (t *Transport) SelfPort() uint16 { return uint16(t.cfg.Port) }

// HasPeer implements classify.LocalIdentity.
func (t *Transport) HasPeer(tsi wire.TSI) bool {
	return t.peers.has(tsi)
}

var _ classify.LocalIdentity = (*Transport)(nil)

// latchReset puts the endpoint into its reset state: every recvmsgv call
// from this point on returns EOF (spec §4.8, §7, scenario S3, testable
// property 6), whether triggered by a socket-level CONNRESET/closed
// descriptor or by a NAK retry budget being exhausted (handlers.go's
// onTimerExpire).
func (t *Transport) latchReset() {
	t.resetMu.Lock()
	defer t.resetMu.Unlock()
	t.isReset = true
}

func (t *Transport) resetLatched() bool {
	t.resetMu.Lock()
	defer t.resetMu.Unlock()
	return t.isReset
}

func classifyNetError(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return KindFAILED
}
