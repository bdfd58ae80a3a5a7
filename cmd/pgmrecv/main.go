package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/dewetron/pgmrecv/internal/pgm/transport"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	MulticastIP      string
	Port             int
	SocketBufferSize int
	Interface        string
	RawIP            bool
	EdgeTriggered    bool
	MetricsAddr      string
	Verbose          bool
	ShowVersion      bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("pgmrecv version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)
	registry := prometheus.NewRegistry()

	framing := transport.FramingUDPEncap
	if cfg.RawIP {
		framing = transport.FramingRawIP
	}

	tr := transport.New(&transport.Config{
		Logger:           log.With("component", "pgm"),
		MulticastGroup:   cfg.MulticastIP,
		Port:             cfg.Port,
		InterfaceName:    cfg.Interface,
		Framing:          framing,
		SocketBufferSize: cfg.SocketBufferSize,
		EdgeTriggered:    cfg.EdgeTriggered,
		Registry:         registry,
		CanRecvData:      true,
	})
	if err := tr.Listen(); err != nil {
		return fmt.Errorf("failed to open receive socket: %w", err)
	}
	defer tr.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := deliverLoop(ctx, log, tr); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("transport error: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		log.Info("metrics server listening", "address", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	log.Info("pgmrecv shutdown complete")
	return nil
}

// deliverLoop calls tr.RecvMsg in a loop, which itself services the
// socket and the classifier pipeline (spec §4.9's recvmsgv) before
// returning each delivered APDU; a real application would plug its own
// consumer in here instead of just logging. It returns nil on context
// cancellation or end of stream (the endpoint's reset state latched), and
// any other error otherwise.
func deliverLoop(ctx context.Context, log *slog.Logger, tr *transport.Transport) error {
	for {
		msg, err := tr.RecvMsg(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		log.Debug("delivered APDU", "tsi", msg.TSI.String(), "first_seq", msg.FirstSeq, "last_seq", msg.LastSeq, "bytes", len(msg.Data))
	}
}

func parseFlags() *config {
	cfg := &config{}

	flag.StringVar(&cfg.MulticastIP, "multicast-ip", "239.0.0.1", "Multicast group IP address")
	flag.IntVar(&cfg.Port, "port", 7500, "PGM port")
	flag.IntVar(&cfg.SocketBufferSize, "socket-buffer-size", transport.DefaultSocketBufferSize,
		"UDP socket receive buffer size (SO_RCVBUF) for high-throughput streams")
	flag.StringVar(&cfg.Interface, "interface", "", "Network interface for multicast (optional)")
	flag.BoolVar(&cfg.RawIP, "raw-ip", false, "Use raw IP protocol 113 framing instead of UDP encapsulation")
	flag.BoolVar(&cfg.EdgeTriggered, "edge-triggered", false, "Use edge-triggered wait semantics instead of level-triggered")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9091", "Prometheus /metrics listen address")
	flag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")

	flag.Parse()
	return cfg
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}
