// Package transport implements the PGM receive-path dispatcher: the socket
// reader, classifier wiring, peer table, pending-delivery flush and ingest
// loop described across spec §3-§5, generalized from mcastrelay's UDP
// multicast listener and pim's raw-IP socket handling into a single
// Transport/Endpoint object.
package transport

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Framing selects how packets are read off the wire: raw IP protocol 113
// or UDP encapsulation, matching the two variants spec §4.2 describes.
type Framing uint8

const (
	FramingRawIP Framing = iota
	FramingUDPEncap
)

// Config holds the configuration for a Transport, following the
// Config/DefaultConfig/nil-check pattern used throughout the pack for
// constructing long-lived components.
type Config struct {
	Logger *slog.Logger

	// MulticastGroup is the group address this endpoint joins to receive
	// downstream traffic, e.g. "239.0.0.1".
	MulticastGroup string
	Port           int
	InterfaceName  string
	Framing        Framing

	BufferSize       int // per-packet read buffer
	SocketBufferSize int // SO_RCVBUF

	// NAKInitialBackoff and NAKMaxBackoff bound the NAK retransmission
	// schedule (spec §9's timer design).
	NAKInitialBackoff time.Duration
	NAKMaxBackoff     time.Duration

	// NAKMaxRetries bounds how many scheduled retries a peer's trailing
	// gap gets before it is declared unrecoverable (spec §4.8's NAK
	// retry-exhaustion lifecycle) and the window is forced past it.
	NAKMaxRetries int

	Clock    clockwork.Clock
	Registry prometheus.Registerer

	// EdgeTriggered selects the wait-stage notify policy (spec §4.11):
	// when true, wait_for_event only wakes a waiter once per arrival
	// rather than every time data remains pending.
	EdgeTriggered bool

	// CanRecvData gates admission of downstream (ODATA/RDATA/NCF/SPM)
	// traffic (spec §4.4's can_recv_data precondition). A downstream
	// packet is never delivered, and never creates a peer-table entry,
	// while this is false.
	CanRecvData bool

	// CanSendData marks this endpoint as also acting as a PGM source,
	// enabling NAK/NNAK addressed to its own source port to route to
	// source-side accounting (spec §4.5's can_send_data precondition) and
	// gating the SOURCE_* counters parseFailure attributes (spec §7,
	// testable property 9). False by default: a pure receive-path
	// dispatcher isn't also a source unless configured as one.
	CanSendData bool
}

const (
	DefaultBufferSize        = 65535
	DefaultSocketBufferSize  = 8 * 1024 * 1024
	DefaultNAKInitialBackoff = 50 * time.Millisecond
	DefaultNAKMaxBackoff     = 2 * time.Second
	DefaultNAKMaxRetries     = 3
)

// DefaultConfig returns a Config with sensible defaults, mirroring
// mcastrelay's multicast.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Logger:            slog.Default(),
		MulticastGroup:    "239.0.0.1",
		Port:              7500,
		Framing:           FramingUDPEncap,
		BufferSize:        DefaultBufferSize,
		SocketBufferSize:  DefaultSocketBufferSize,
		NAKInitialBackoff: DefaultNAKInitialBackoff,
		NAKMaxBackoff:     DefaultNAKMaxBackoff,
		NAKMaxRetries:     DefaultNAKMaxRetries,
		Clock:             clockwork.NewRealClock(),
		Registry:          prometheus.NewRegistry(),
		CanRecvData:       true,
	}
}

// withDefaults fills in zero-valued fields of cfg, the same nil-guard
// pattern NewListener uses before dialing a socket.
func withDefaults(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	out := *cfg
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.BufferSize <= 0 {
		out.BufferSize = DefaultBufferSize
	}
	if out.SocketBufferSize <= 0 {
		out.SocketBufferSize = DefaultSocketBufferSize
	}
	if out.NAKInitialBackoff <= 0 {
		out.NAKInitialBackoff = DefaultNAKInitialBackoff
	}
	if out.NAKMaxBackoff <= 0 {
		out.NAKMaxBackoff = DefaultNAKMaxBackoff
	}
	if out.NAKMaxRetries <= 0 {
		out.NAKMaxRetries = DefaultNAKMaxRetries
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Registry == nil {
		out.Registry = prometheus.NewRegistry()
	}
	return &out
}
