//go:build darwin

package ethlink

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Darwin Backend — BPF Device
// -------------------------------------------------------------------------

const (
	// bpfDevMax bounds the /dev/bpfN scan for a free device.
	bpfDevMax = 99

	// bpfBufSize is the requested BPF store buffer length. The kernel may
	// round it; the granted size is read back with BIOCGBLEN.
	bpfBufSize = 3 * 1024 * 1024

	// bpfAlignment is the record alignment inside a BPF read
	// (BPF_WORDALIGN on Darwin).
	bpfAlignment = 4
)

// bpfLink implements Link over a /dev/bpfN device bound to one interface.
// The (source MAC, Ethertype) receive filter runs in the kernel via the
// program from filterProgram; writes go directly to the descriptor. One
// read may return several bpf_hdr-prefixed records, so the reader keeps a
// cursor into the last read.
type bpfLink struct {
	f      *os.File
	fd     int
	local  HardwareAddr
	remote HardwareAddr
	pacer  *pacer
	stats  Stats
	closed bool

	sendBuf [MaxFrameLen]byte

	// readBuf holds the kernel-granted store buffer; readLen and readOff
	// track the bytes of the current read and the cursor into them.
	readBuf []byte
	readLen int
	readOff int
}

// ifreq mirrors struct ifreq for the BIOCSETIF ioctl; only the interface
// name is consumed.
type ifreq struct {
	Name [unix.IFNAMSIZ]byte
	_    [16]byte
}

// bpfProgram mirrors struct bpf_program for the BIOCSETF ioctl.
type bpfProgram struct {
	Len   uint32
	Insns *bpf.RawInstruction
}

// openLink opens the BPF backend for cfg: first free /dev/bpfN, immediate
// mode, negotiated buffer, interface binding, kernel filter.
func openLink(cfg Config, pacer *pacer) (Link, error) {
	f, err := openBpfDev()
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	// Immediate mode: reads return as soon as a packet arrives instead of
	// waiting for the store buffer to fill.
	if err := unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, 1); err != nil {
		f.Close()
		return nil, fmt.Errorf("set immediate mode: %w: %w", ErrLinkIO, err)
	}

	if err := unix.IoctlSetPointerInt(fd, unix.BIOCSBLEN, bpfBufSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("request buffer length: %w: %w", ErrLinkIO, err)
	}
	bufLen, err := unix.IoctlGetInt(fd, unix.BIOCGBLEN)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read buffer length: %w: %w", ErrLinkIO, err)
	}

	if err := bindBpfDev(fd, cfg.Interface); err != nil {
		f.Close()
		return nil, err
	}

	if err := installFilter(fd, cfg.Remote); err != nil {
		f.Close()
		return nil, err
	}

	cfg.Logger.Info("bpf device open",
		slog.String("dev", f.Name()),
		slog.String("iface", cfg.Interface),
		slog.String("remote_mac", cfg.Remote.String()),
		slog.String("local_mac", cfg.Local.String()),
		slog.Int("buffer_bytes", bufLen),
	)

	return &bpfLink{
		f:       f,
		fd:      fd,
		local:   cfg.Local,
		remote:  cfg.Remote,
		pacer:   pacer,
		stats:   cfg.Stats,
		readBuf: make([]byte, bufLen),
	}, nil
}

// openBpfDev opens the first available /dev/bpfN device.
func openBpfDev() (*os.File, error) {
	for i := 0; i <= bpfDevMax; i++ {
		f, err := os.OpenFile(fmt.Sprintf("/dev/bpf%d", i), os.O_RDWR, 0)
		if err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no available /dev/bpf device: %w", ErrLinkIO)
}

// bindBpfDev binds the BPF device to the named interface (BIOCSETIF).
func bindBpfDev(fd int, iface string) error {
	var ifr ifreq
	if len(iface) >= len(ifr.Name) {
		return fmt.Errorf("interface name %q too long: %w", iface, ErrLinkIO)
	}
	copy(ifr.Name[:], iface)

	if err := ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&ifr)); err != nil {
		return fmt.Errorf("bind bpf device to %q: %w: %w", iface, ErrLinkIO, err)
	}
	return nil
}

// installFilter installs the kernel receive filter matching the remote
// source MAC and the TBSP Ethertype (BIOCSETF).
func installFilter(fd int, remote HardwareAddr) error {
	raw, err := assembleFilter(remote)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLinkIO, err)
	}

	prog := bpfProgram{
		Len:   uint32(len(raw)),
		Insns: &raw[0],
	}
	if err := ioctlPtr(fd, unix.BIOCSETF, unsafe.Pointer(&prog)); err != nil {
		return fmt.Errorf("install receive filter: %w: %w", ErrLinkIO, err)
	}
	return nil
}

// ioctlPtr issues an ioctl whose argument is a pointer to a struct.
func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// SendFrame transmits one frame carrying payload, pacing first. Writes on
// a bound BPF descriptor inject the frame on the interface as-is.
func (l *bpfLink) SendFrame(payload []byte) error {
	if l.closed {
		return ErrLinkClosed
	}
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("send %d bytes: %w", len(payload), ErrPayloadTooLarge)
	}

	frameLen := buildFrame(l.sendBuf[:], l.remote, l.local, payload)

	l.pacer.Wait()
	if _, err := unix.Write(l.fd, l.sendBuf[:frameLen]); err != nil {
		return fmt.Errorf("send frame: %w: %w", ErrLinkIO, err)
	}

	l.stats.FrameSent(frameLen)
	return nil
}

// RecvFrame returns the payload of the next filtered frame. The kernel
// filter has already matched source MAC and Ethertype; a single read can
// carry several records, each prefixed by a bpf_hdr and aligned on
// bpfAlignment.
func (l *bpfLink) RecvFrame(buf []byte) (int, error) {
	for {
		if l.closed {
			return 0, ErrLinkClosed
		}

		frame, err := l.nextRecord()
		if err != nil {
			return 0, err
		}
		if frame == nil {
			continue
		}
		if len(frame) < headerLen {
			l.stats.FrameFiltered()
			continue
		}

		payload := copy(buf, frame[headerLen:])
		l.stats.FrameReceived(payload)
		return payload, nil
	}
}

// nextRecord returns the captured bytes of the next record in the read
// buffer, refilling it from the device when the cursor is exhausted. A nil
// frame with nil error means the caller should retry (transient empty
// read or truncated trailing record).
func (l *bpfLink) nextRecord() ([]byte, error) {
	if l.readOff >= l.readLen {
		n, err := unix.Read(l.fd, l.readBuf)
		if err == unix.EINTR {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("receive frame: %w: %w", ErrLinkIO, err)
		}
		if n == 0 {
			return nil, nil
		}
		l.readLen = n
		l.readOff = 0
	}

	// struct bpf_hdr: timestamp (8) | caplen u32 (8) | datalen u32 (12) |
	// hdrlen u16 (16). Darwin is little-endian on every port Go supports.
	if l.readOff+18 > l.readLen {
		l.readOff = l.readLen
		return nil, nil
	}
	capLen := int(binary.NativeEndian.Uint32(l.readBuf[l.readOff+8:]))
	hdrLen := int(binary.NativeEndian.Uint16(l.readBuf[l.readOff+16:]))

	start := l.readOff + hdrLen
	end := start + capLen
	if end > l.readLen {
		l.readOff = l.readLen
		return nil, nil
	}

	l.readOff += (hdrLen + capLen + bpfAlignment - 1) &^ (bpfAlignment - 1)
	return l.readBuf[start:end], nil
}

// Close releases the BPF device.
func (l *bpfLink) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close bpf device: %w: %w", ErrLinkIO, err)
	}
	return nil
}
