package tbsp

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neuflow/nfeth/internal/ethlink"
)

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	// ErrResetExhausted indicates the reset handshake failed to elicit a
	// zeroed ACK from the device after every attempt.
	ErrResetExhausted = errors.New("reset handshake exhausted")
)

// -------------------------------------------------------------------------
// Handshake Constants
// -------------------------------------------------------------------------

const (
	// resetAttempts is how many RESET+REQ pairs are sent before the
	// handshake is abandoned.
	resetAttempts = 10

	// resetSettle is how long the device needs to come out of reset
	// before it can answer the follow-up REQ.
	resetSettle = 10 * time.Millisecond
)

// -------------------------------------------------------------------------
// Stats Hook
// -------------------------------------------------------------------------

// Stats receives transport-level event counts.
type Stats interface {
	// ResetAttempted records one RESET+REQ handshake attempt.
	ResetAttempted()

	// ResetCompleted records the outcome of a full Reset call.
	ResetCompleted(ok bool)

	// StreamResent records bytes the device asked to have retransmitted
	// at the end of a send stream.
	StreamResent(bytes int)

	// StaleDropped records one DATA frame dropped for carrying bytes the
	// caller already consumed.
	StaleDropped()
}

// nopStats discards all events.
type nopStats struct{}

func (nopStats) ResetAttempted()     {}
func (nopStats) ResetCompleted(bool) {}
func (nopStats) StreamResent(int)    {}
func (nopStats) StaleDropped()       {}

// -------------------------------------------------------------------------
// Transport
// -------------------------------------------------------------------------

// Transport implements reliable, in-order byte streams in each direction
// over the unreliable raw frame channel.
//
// It keeps two monotonic byte counters: sendSeq, the bytes offered to the
// device, and recvSeq, the bytes delivered to the caller. Both wrap modulo
// 2³² and are zeroed by a successful Reset. A carryover buffer holds the
// tail of a data frame that extended past the end of one RecvStream call;
// it is consumed at the head of the next call.
//
// A Transport is single-threaded: at most one goroutine may issue
// operations at a time, and every operation runs to completion before
// returning. The only suspension points are blocking link reads.
type Transport struct {
	link  ethlink.Link
	log   *slog.Logger
	stats Stats

	sendBuf [MaxPacketLen]byte
	recvBuf [MaxPacketLen]byte

	sendSeq uint32
	recvSeq uint32

	carry    [MaxPacketLen]byte
	carryLen int
}

// NewTransport builds a Transport over link. A nil logger selects
// slog.Default(); a nil stats sink discards events.
func NewTransport(link ethlink.Link, log *slog.Logger, stats Stats) *Transport {
	if log == nil {
		log = slog.Default()
	}
	if stats == nil {
		stats = nopStats{}
	}
	return &Transport{link: link, log: log, stats: stats}
}

// SendSeq returns the send-side byte counter.
func (t *Transport) SendSeq() uint32 { return t.sendSeq }

// RecvSeq returns the receive-side byte counter.
func (t *Transport) RecvSeq() uint32 { return t.recvSeq }

// Reset drives the reset handshake: a RESET frame, a settle delay so the
// device can come back up, a REQ frame, then one received frame. The
// handshake succeeds when the device answers with an ACK whose sequence
// fields are both zero; both local counters are then zeroed too. Up to
// resetAttempts rounds are tried before giving up with ErrResetExhausted.
func (t *Transport) Reset() error {
	sp := NewPacket(t.sendBuf[:])
	rp := NewPacket(t.recvBuf[:])

	for attempt := 1; attempt <= resetAttempts; attempt++ {
		t.stats.ResetAttempted()

		sp.ZeroHeader()
		sp.SetType(TypeReset)
		if err := t.link.SendFrame(t.sendBuf[:HeaderLen]); err != nil {
			t.stats.ResetCompleted(false)
			return fmt.Errorf("send reset: %w", err)
		}

		time.Sleep(resetSettle)

		sp.ZeroHeader()
		sp.SetType(TypeReq)
		if err := t.link.SendFrame(t.sendBuf[:HeaderLen]); err != nil {
			t.stats.ResetCompleted(false)
			return fmt.Errorf("send reset request: %w", err)
		}

		if _, err := t.link.RecvFrame(t.recvBuf[:]); err != nil {
			t.stats.ResetCompleted(false)
			return fmt.Errorf("receive reset ack: %w", err)
		}

		if rp.Type() == TypeAck && rp.SeqA() == 0 && rp.SeqB() == 0 {
			t.sendSeq = 0
			t.recvSeq = 0
			t.stats.ResetCompleted(true)
			t.log.Debug("reset handshake complete", slog.Int("attempt", attempt))
			return nil
		}
	}

	t.stats.ResetCompleted(false)
	return fmt.Errorf("no zeroed ack after %d attempts: %w", resetAttempts, ErrResetExhausted)
}

// SendStream transmits data as one stream: chunks of up to DataLen bytes
// are sent optimistically, non-final chunks typed DATA and the final chunk
// typed REQ (the last data-bearing frame doubles as the end-of-stream
// request, even when it is exactly DataLen long). After the REQ the device
// answers with a frame whose second sequence field reports how many bytes
// it has durably accepted; if that falls short of the stream, transmission
// resumes from the device's position. Retransmission is therefore entirely
// device-driven.
func (t *Transport) SendStream(data []byte) error {
	sp := NewPacket(t.sendBuf[:])
	rp := NewPacket(t.recvBuf[:])

	cur := 0
	start := t.sendSeq

	for cur < len(data) {
		sp.ZeroHeader()

		n := len(data) - cur
		if n > DataLen {
			n = DataLen
			sp.SetType(TypeData)
		} else {
			sp.SetType(TypeReq)
		}

		sp.SetSeqA(t.sendSeq)
		sp.SetSeqB(t.recvSeq)
		sp.SetDataLen(uint16(n))
		copy(t.sendBuf[HeaderLen:], data[cur:cur+n])

		if err := t.link.SendFrame(t.sendBuf[:HeaderLen+n]); err != nil {
			return fmt.Errorf("send stream frame: %w", err)
		}

		t.sendSeq += uint32(n)
		cur += n

		if cur >= len(data) {
			if _, err := t.link.RecvFrame(t.recvBuf[:]); err != nil {
				return fmt.Errorf("receive stream ack: %w", err)
			}

			t.sendSeq = rp.SeqB()
			cur = int(t.sendSeq - start)

			if cur < len(data) {
				t.stats.StreamResent(len(data) - cur)
				t.log.Info("stream shortfall, resending",
					slog.Int("total", len(data)),
					slog.Int("accepted", cur),
					slog.Int("resend", len(data)-cur),
				)
			}
		}
	}

	return nil
}

// RecvStream fills out with the next len(out) bytes of the device-to-host
// stream.
//
// Any carryover from the previous call is consumed first. Then frames are
// read one at a time: DATA frames are placed at their sequence offset
// (stale ones — offset negative — are dropped), and a frame extending past
// the end of out has its tail parked in the carryover buffer. ACK frames
// refresh the send counter from their second sequence field; two
// consecutive ACKs after the stream has started mean the device has no
// more data, and an ACK whose first sequence field shows the device is
// already past the request also ends the call.
//
// On return recvSeq has advanced by exactly len(out), whether or not every
// byte of out was written — the caller is responsible for sizing requests
// to the data the device will actually produce.
func (t *Transport) RecvStream(out []byte) error {
	rp := NewPacket(t.recvBuf[:])

	started := false
	acks := 0

	if t.carryLen > 0 {
		copy(out, t.carry[:t.carryLen])
		t.carryLen = 0
		started = true
	}

recv:
	for {
		if _, err := t.link.RecvFrame(t.recvBuf[:]); err != nil {
			return fmt.Errorf("receive stream frame: %w", err)
		}

		switch rp.Type() {
		case TypeAck:
			if started {
				acks++
			}
			t.sendSeq = rp.SeqB()

			// Two ACKs in a row after stream start: nothing more coming.
			if acks == 2 {
				break recv
			}
			if rp.SeqA()-t.recvSeq >= uint32(len(out)) {
				break recv
			}

		case TypeData:
			started = true
			acks = 0

			dataLen := int(rp.DataLen())
			off := int(int32(rp.SeqA() - t.recvSeq))
			if off < 0 {
				// Retransmit of bytes the caller already consumed.
				t.stats.StaleDropped()
				continue
			}

			if off+dataLen < len(out) {
				copy(out[off:], rp.Data()[:dataLen])
				continue
			}

			// Frame crosses the end of the request: split the tail into
			// the carryover buffer for the next call.
			carryLen := off + dataLen - len(out)
			dataLen -= carryLen
			if dataLen >= 0 {
				copy(t.carry[:], rp.Data()[dataLen:dataLen+carryLen])
				copy(out[off:], rp.Data()[:dataLen])
				t.carryLen = carryLen
			} else {
				t.carryLen = 0
			}
			break recv
		}
	}

	t.recvSeq += uint32(len(out))
	return nil
}

// Close releases the underlying link.
func (t *Transport) Close() error {
	return t.link.Close()
}
