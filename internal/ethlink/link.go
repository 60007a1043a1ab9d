// Package ethlink moves raw Ethernet frames between the host and the
// neuFlow accelerator over one directly attached interface.
//
// The accelerator is not an IP endpoint: frames are exchanged at layer 2,
// identified by a fixed MAC pair and the local-experimental Ethertype
// 0x88B5. The package provides one backend per platform behind the narrow
// Link interface — an AF_PACKET socket on Linux and a BPF device on
// Darwin — plus the send-side pacing the device requires.
package ethlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// -------------------------------------------------------------------------
// Ethernet Constants
// -------------------------------------------------------------------------

const (
	// EtherType identifies TBSP traffic on the wire. 0x88B5 is reserved by
	// IEEE 802 for local experimental use and acts as a private channel
	// identifier between host and device.
	EtherType uint16 = 0x88B5

	// addrLen is the length of an Ethernet hardware address in bytes.
	addrLen = 6

	// headerLen is the Ethernet header length: destination MAC (6) +
	// source MAC (6) + Ethertype (2).
	headerLen = 14

	// minFrameLen is the minimum Ethernet frame length excluding FCS.
	// Shorter frames are zero-padded up to this size before transmit.
	minFrameLen = 60

	// MaxFrameLen is the maximum Ethernet frame length excluding FCS.
	// Both backends size their frame buffers to this.
	MaxFrameLen = 1514

	// MaxPayloadLen is the largest payload a single frame can carry.
	MaxPayloadLen = MaxFrameLen - headerLen
)

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	// ErrLinkIO indicates the OS socket or BPF handle reported a failure
	// on open, bind, filter installation, send, or receive. Fatal to the
	// session.
	ErrLinkIO = errors.New("link I/O failure")

	// ErrPayloadTooLarge indicates a SendFrame payload exceeding
	// MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame payload")

	// ErrLinkClosed indicates an operation on a closed link.
	ErrLinkClosed = errors.New("link closed")
)

// -------------------------------------------------------------------------
// Link Interface
// -------------------------------------------------------------------------

// Link transmits and receives single Ethernet frames against one network
// interface. Implementations own the frame buffers and the Ethernet
// header; callers see only the payload region.
//
// The interface is intentionally minimal so the transport above it can be
// tested against an in-memory implementation without CAP_NET_RAW or a
// /dev/bpf handle.
type Link interface {
	// SendFrame transmits one frame carrying payload. The implementation
	// prepends the configured MAC pair and Ethertype, zero-pads the frame
	// to the 60-byte Ethernet minimum, and enforces the minimum
	// inter-frame gap before writing.
	SendFrame(payload []byte) error

	// RecvFrame blocks until one frame from the configured peer arrives,
	// copies its payload into buf, and returns the payload length. The
	// Linux backend matches the (destination, source, Ethertype) triple;
	// the Darwin backend matches source MAC and Ethertype only and does
	// not check the destination MAC. There is no timeout at this layer.
	RecvFrame(buf []byte) (int, error)

	// Close releases the underlying handle.
	Close() error
}

// -------------------------------------------------------------------------
// Stats Hook
// -------------------------------------------------------------------------

// Stats receives link-level event counts. Implementations must be cheap;
// calls happen on the send/receive path.
type Stats interface {
	// FrameSent records one transmitted frame of the given wire length.
	FrameSent(bytes int)

	// FrameReceived records one accepted inbound frame of the given
	// payload length.
	FrameReceived(bytes int)

	// FrameFiltered records one inbound frame rejected by the
	// (destination, source, Ethertype) filter.
	FrameFiltered()

	// SleepBiasCalibrated records the measured sleep overshoot in
	// microseconds.
	SleepBiasCalibrated(us float64)
}

// nopStats discards all events.
type nopStats struct{}

func (nopStats) FrameSent(int)               {}
func (nopStats) FrameReceived(int)           {}
func (nopStats) FrameFiltered()              {}
func (nopStats) SleepBiasCalibrated(float64) {}

// -------------------------------------------------------------------------
// Configuration & Open
// -------------------------------------------------------------------------

// Config carries the parameters needed to open a link.
type Config struct {
	// Interface is the network interface name (e.g. "eth0", "en0").
	Interface string

	// Remote is the accelerator's MAC address. Zero value selects
	// DefaultRemote.
	Remote HardwareAddr

	// Local is the host-side MAC address frames are accepted on. Zero
	// value selects Broadcast.
	Local HardwareAddr

	// Logger receives open-time diagnostics. Nil selects slog.Default().
	Logger *slog.Logger

	// Stats receives link event counts. Nil discards them.
	Stats Stats
}

// withDefaults returns cfg with unset fields resolved.
func (cfg Config) withDefaults() Config {
	if cfg.Remote.IsZero() {
		cfg.Remote = DefaultRemote
	}
	if cfg.Local.IsZero() {
		cfg.Local = Broadcast
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStats{}
	}
	return cfg
}

// Open opens the platform link backend for cfg, calibrating the send pacer
// first. Calibration sleeps the 170 µs inter-frame target a thousand times
// to measure the scheduler's overshoot, so Open takes a noticeable
// fraction of a second by design.
func Open(cfg Config) (Link, error) {
	cfg = cfg.withDefaults()
	if cfg.Interface == "" {
		return nil, fmt.Errorf("open link: interface name required: %w", ErrLinkIO)
	}

	pacer := newPacer()
	bias := pacer.Calibrate()
	cfg.Stats.SleepBiasCalibrated(float64(bias.Microseconds()))
	cfg.Logger.Info("link pacer calibrated",
		slog.String("iface", cfg.Interface),
		slog.Int64("sleep_bias_us", bias.Microseconds()),
	)

	return openLink(cfg, pacer)
}

// -------------------------------------------------------------------------
// Frame Helpers (shared by both backends)
// -------------------------------------------------------------------------

// buildFrame assembles a full Ethernet frame into buf: dst | src |
// Ethertype | payload, zero-padded up to the 60-byte minimum. Returns the
// wire length. buf must be at least MaxFrameLen bytes.
func buildFrame(buf []byte, dst, src HardwareAddr, payload []byte) int {
	copy(buf[0:addrLen], dst[:])
	copy(buf[addrLen:2*addrLen], src[:])
	binary.BigEndian.PutUint16(buf[2*addrLen:headerLen], EtherType)
	copy(buf[headerLen:], payload)

	frameLen := headerLen + len(payload)
	for frameLen < minFrameLen {
		buf[frameLen] = 0
		frameLen++
	}
	return frameLen
}

// frameMatches reports whether a received frame carries the configured
// destination MAC, source MAC, and Ethertype. Frames shorter than the
// Ethernet header never match.
func frameMatches(frame []byte, local, remote HardwareAddr) bool {
	if len(frame) < headerLen {
		return false
	}
	if HardwareAddr(frame[0:addrLen]) != local {
		return false
	}
	if HardwareAddr(frame[addrLen:2*addrLen]) != remote {
		return false
	}
	return binary.BigEndian.Uint16(frame[2*addrLen:headerLen]) == EtherType
}
