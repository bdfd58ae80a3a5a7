// Package stats exposes the dispatcher's counters as Prometheus metrics,
// grounded on the counter/gauge wiring used throughout the pack's services
// (github.com/prometheus/client_golang), and registered through a
// *prometheus.Registry the caller owns rather than the global default
// registry, so multiple Transport instances in one process don't collide.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Counters holds the receive-path error and byte taxonomy from the error
// handling design (spec §7): packets discarded because their originating
// source is unknown or cross-checked badly, checksum failures attributable
// to a source, packets discarded on the receive side, and application
// payload bytes of ODATA/RDATA handed to a receive window.
type Counters struct {
	// SourcePacketsDiscarded is also incremented for receive-side discards
	// that have no peer context (unclassifiable packets, peer traffic about
	// an unknown TSI), despite its source-side name.
	SourcePacketsDiscarded   prometheus.Counter
	SourceChecksumErrors     prometheus.Counter
	ReceiverPacketsDiscarded prometheus.Counter
	ReceiverBytesReceived    prometheus.Counter

	NAKsSent          prometheus.Counter
	RepairsRecovered  prometheus.Counter
	UnrecoverableLoss prometheus.Counter
}

// NewCounters creates and registers the counter set against reg. Passing a
// dedicated registry (rather than prometheus.DefaultRegisterer) lets tests
// and multiple endpoints in one process avoid "duplicate metrics collector
// registration" panics.
func NewCounters(reg prometheus.Registerer, namespace string) *Counters {
	c := &Counters{
		SourcePacketsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_packets_discarded_total",
			Help:      "Packets discarded because they could not be attributed to a tracked source.",
		}),
		SourceChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_checksum_errors_total",
			Help:      "Packets discarded due to PGM checksum validation failure.",
		}),
		ReceiverPacketsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receiver_packets_discarded_total",
			Help:      "Packets discarded on the receive path, including parse and checksum failures on an endpoint that does not send data.",
		}),
		ReceiverBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receiver_bytes_received_total",
			Help:      "Application payload bytes of ODATA/RDATA handed to a receive window.",
		}),
		NAKsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "naks_sent_total",
			Help:      "NAKs transmitted in response to detected sequence gaps.",
		}),
		RepairsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_recovered_total",
			Help:      "Sequence numbers recovered via RDATA after a NAK.",
		}),
		UnrecoverableLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecoverable_loss_total",
			Help:      "Sequence numbers declared unrecoverably lost.",
		}),
	}
	reg.MustRegister(
		c.SourcePacketsDiscarded,
		c.SourceChecksumErrors,
		c.ReceiverPacketsDiscarded,
		c.ReceiverBytesReceived,
		c.NAKsSent,
		c.RepairsRecovered,
		c.UnrecoverableLoss,
	)
	return c
}
