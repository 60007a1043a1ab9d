//go:build linux

package ethlink

import (
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Linux Backend — AF_PACKET Raw Socket
// -------------------------------------------------------------------------

// sockBufSize is the target size for the kernel send and receive socket
// buffers. The device bursts whole result tensors between host receive
// calls; 64 MiB absorbs those bursts without drops.
const sockBufSize = 64 * 1024 * 1024

// packetLink implements Link over an AF_PACKET SOCK_RAW socket bound to
// one interface by index. The (destination, source, Ethertype) receive
// filter runs in user space: the socket sees every frame on the wire and
// RecvFrame discards the ones that are not ours.
type packetLink struct {
	fd     int
	dst    unix.SockaddrLinklayer
	local  HardwareAddr
	remote HardwareAddr
	pacer  *pacer
	stats  Stats
	closed bool

	sendBuf [MaxFrameLen]byte
	recvBuf [MaxFrameLen]byte
}

// openLink opens the AF_PACKET backend for cfg.
func openLink(cfg Config, pacer *pacer) (Link, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %q: %w: %w", cfg.Interface, ErrLinkIO, err)
	}

	proto := hostToNet16(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("open packet socket: %w: %w", ErrLinkIO, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  ifi.Index,
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind packet socket to %q: %w: %w", cfg.Interface, ErrLinkIO, err)
	}

	rcv, err := forceSockBuf(fd, unix.SO_RCVBUFFORCE, unix.SO_RCVBUF)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size receive buffer: %w: %w", ErrLinkIO, err)
	}
	snd, err := forceSockBuf(fd, unix.SO_SNDBUFFORCE, unix.SO_SNDBUF)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size send buffer: %w: %w", ErrLinkIO, err)
	}

	cfg.Logger.Info("packet socket open",
		slog.String("iface", cfg.Interface),
		slog.String("remote_mac", cfg.Remote.String()),
		slog.String("local_mac", cfg.Local.String()),
		slog.Int("rcvbuf_bytes", rcv),
		slog.Int("sndbuf_bytes", snd),
	)

	l := &packetLink{
		fd: fd,
		dst: unix.SockaddrLinklayer{
			Protocol: proto,
			Ifindex:  ifi.Index,
			Halen:    addrLen,
		},
		local:  cfg.Local,
		remote: cfg.Remote,
		pacer:  pacer,
		stats:  cfg.Stats,
	}
	copy(l.dst.Addr[:], cfg.Remote[:])

	return l, nil
}

// forceSockBuf sets a socket buffer to sockBufSize with the privileged
// *FORCE option, falling back to the unprivileged option when the process
// lacks CAP_NET_ADMIN. Returns the size the kernel actually granted.
func forceSockBuf(fd, forceOpt, opt int) (int, error) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, forceOpt, sockBufSize); err != nil {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, sockBufSize); err != nil {
			return 0, fmt.Errorf("setsockopt buffer size: %w", err)
		}
	}
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, opt)
}

// SendFrame transmits one frame carrying payload, pacing first.
func (l *packetLink) SendFrame(payload []byte) error {
	if l.closed {
		return ErrLinkClosed
	}
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("send %d bytes: %w", len(payload), ErrPayloadTooLarge)
	}

	frameLen := buildFrame(l.sendBuf[:], l.remote, l.local, payload)

	l.pacer.Wait()
	if err := unix.Sendto(l.fd, l.sendBuf[:frameLen], 0, &l.dst); err != nil {
		return fmt.Errorf("send frame: %w: %w", ErrLinkIO, err)
	}

	l.stats.FrameSent(frameLen)
	return nil
}

// RecvFrame blocks until a frame from the configured peer arrives and
// copies its payload into buf. Non-matching frames are discarded in user
// space; zero-length reads are transient and retried.
func (l *packetLink) RecvFrame(buf []byte) (int, error) {
	for {
		if l.closed {
			return 0, ErrLinkClosed
		}

		n, _, err := unix.Recvfrom(l.fd, l.recvBuf[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("receive frame: %w: %w", ErrLinkIO, err)
		}
		if n == 0 {
			continue
		}

		if !frameMatches(l.recvBuf[:n], l.local, l.remote) {
			l.stats.FrameFiltered()
			continue
		}

		payload := copy(buf, l.recvBuf[headerLen:n])
		l.stats.FrameReceived(payload)
		return payload, nil
	}
}

// Close releases the socket.
func (l *packetLink) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("close packet socket: %w: %w", ErrLinkIO, err)
	}
	return nil
}

// hostToNet16 converts a 16-bit value to network byte order for the
// sockaddr_ll protocol field.
func hostToNet16(v uint16) uint16 {
	return v<<8 | v>>8
}
