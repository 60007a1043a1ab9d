// Package nfeth is the host-side driver for the neuFlow accelerator.
//
// The accelerator hangs off one directly attached Ethernet interface and
// is not an IP endpoint: the driver bypasses the kernel's TCP/IP stack and
// exchanges raw layer-2 frames with a fixed MAC pair and the private
// Ethertype 0x88B5. On top of those frames it runs TBSP, a reliable
// in-order byte-stream protocol, and above that a Q8.8 fixed-point codec
// that carries tensors in the device's native numeric format.
//
// A Session bundles all driver state — socket handle, MAC pair, frame
// buffers, stream counters, carryover, pacing — into one value. Sessions
// are synchronous and single-threaded: every operation runs to completion
// before returning, and concurrent callers must serialize externally.
// Opening two sessions against the same peer is unsupported; the driver
// treats the NIC as exclusively owned while a session is open.
package nfeth

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neuflow/nfeth/internal/config"
	"github.com/neuflow/nfeth/internal/ethlink"
	nfmetrics "github.com/neuflow/nfeth/internal/metrics"
	"github.com/neuflow/nfeth/internal/tbsp"
)

// -------------------------------------------------------------------------
// Session Configuration
// -------------------------------------------------------------------------

// Config carries the parameters for Open. The zero value selects the
// platform's first Ethernet device, the accelerator's factory MAC, and
// broadcast as the local address.
type Config struct {
	// Interface is the network interface name. Empty selects "eth0" on
	// Linux and "en0" on Darwin.
	Interface string

	// RemoteMAC is the accelerator's MAC address as a colon-separated
	// string. Empty selects the factory default 00:80:10:64:00:00.
	RemoteMAC string

	// LocalMAC is the host-side MAC frames are accepted on. Empty selects
	// the Ethernet broadcast address, for hosts whose OS does not fill in
	// the source address.
	LocalMAC string

	// Logger receives driver diagnostics. Nil selects slog.Default().
	Logger *slog.Logger

	// Registerer, when non-nil, gets the driver's Prometheus metrics
	// registered against it.
	Registerer prometheus.Registerer
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is an open driver session against one accelerator.
type Session struct {
	link ethlink.Link
	tr   *tbsp.Transport
	log  *slog.Logger
}

// Open opens a session: it resolves the interface and MAC defaults,
// calibrates the send pacer, opens the platform's raw-frame backend, and
// builds the transport. The session starts unsynchronized; call SendReset
// before streaming.
func Open(cfg Config) (*Session, error) {
	iface := cfg.Interface
	if iface == "" {
		iface = config.DefaultInterface()
	}

	remote := ethlink.DefaultRemote
	if cfg.RemoteMAC != "" {
		var err error
		if remote, err = ethlink.ParseHardwareAddr(cfg.RemoteMAC); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	local := ethlink.Broadcast
	if cfg.LocalMAC != "" {
		var err error
		if local, err = ethlink.ParseHardwareAddr(cfg.LocalMAC); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var collector *nfmetrics.Collector
	if cfg.Registerer != nil {
		collector = nfmetrics.NewCollector(cfg.Registerer)
	}

	linkCfg := ethlink.Config{
		Interface: iface,
		Remote:    remote,
		Local:     local,
		Logger:    log,
	}
	if collector != nil {
		linkCfg.Stats = collector
	}

	link, err := ethlink.Open(linkCfg)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	var stats tbsp.Stats
	if collector != nil {
		stats = collector
	}

	return &Session{
		link: link,
		tr:   tbsp.NewTransport(link, log, stats),
		log:  log,
	}, nil
}

// newSession builds a Session over an already open link. Used by tests to
// run the full driver stack against an in-memory link.
func newSession(link ethlink.Link, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		link: link,
		tr:   tbsp.NewTransport(link, log, nil),
		log:  log,
	}
}

// SendReset drives the reset handshake and zeroes both stream counters.
// On failure the session is left unsynchronized; the caller may retry or
// Close.
func (s *Session) SendReset() error {
	return s.tr.Reset()
}

// SendBytes streams raw bytes — typically a bytecode image — to the
// device with no numeric conversion.
func (s *Session) SendBytes(data []byte) error {
	return s.tr.SendStream(data)
}

// Close releases the session's OS handle. Any blocked operation in
// another goroutine is not interrupted; callers serialize operations.
func (s *Session) Close() error {
	if err := s.link.Close(); err != nil {
		return err
	}
	s.log.Debug("session closed")
	return nil
}
