package nfeth

import (
	"bytes"
	"errors"
	"testing"

	"github.com/neuflow/nfeth/internal/tbsp"
)

// -------------------------------------------------------------------------
// Mock Link
// -------------------------------------------------------------------------

// scriptLink is an in-memory link: sent payloads are recorded, inbound
// payloads are served from a queue, and a respond hook can answer sends.
type scriptLink struct {
	sent    [][]byte
	queue   [][]byte
	respond func(l *scriptLink, sent tbsp.Packet)
	closed  bool
}

func (l *scriptLink) SendFrame(payload []byte) error {
	cp := append([]byte(nil), payload...)
	l.sent = append(l.sent, cp)
	if l.respond != nil {
		l.respond(l, tbsp.NewPacket(cp))
	}
	return nil
}

func (l *scriptLink) RecvFrame(buf []byte) (int, error) {
	if len(l.queue) == 0 {
		return 0, errors.New("script link: no queued reply")
	}
	r := l.queue[0]
	l.queue = l.queue[1:]
	return copy(buf, r), nil
}

func (l *scriptLink) Close() error {
	l.closed = true
	return nil
}

// ackAll confirms every REQ at the device's full accepted position.
func ackAll(l *scriptLink, sent tbsp.Packet) {
	if sent.Type() == tbsp.TypeReq {
		l.queue = append(l.queue,
			mkPacket(tbsp.TypeAck, 0, sent.SeqA()+uint32(sent.DataLen()), nil))
	}
}

func mkPacket(typ tbsp.Type, seqA, seqB uint32, data []byte) []byte {
	buf := make([]byte, tbsp.HeaderLen+len(data))
	p := tbsp.NewPacket(buf)
	p.SetType(typ)
	p.SetSeqA(seqA)
	p.SetSeqB(seqB)
	p.SetDataLen(uint16(len(data)))
	copy(buf[tbsp.HeaderLen:], data)
	return buf
}

// -------------------------------------------------------------------------
// Tensor Round Trips
// -------------------------------------------------------------------------

func TestSendTensorFloat32(t *testing.T) {
	t.Parallel()

	link := &scriptLink{respond: ackAll}
	s := newSession(link, nil)

	if err := SendTensor(s, []float32{1.0, -1.0, 0.5}); err != nil {
		t.Fatalf("SendTensor() = %v", err)
	}

	if len(link.sent) != 1 {
		t.Fatalf("frames sent = %d, want 1", len(link.sent))
	}

	p := tbsp.NewPacket(link.sent[0])
	if p.Type() != tbsp.TypeReq {
		t.Errorf("frame type = %v, want Req", p.Type())
	}
	if p.SeqA() != 0 || p.SeqB() != 0 {
		t.Errorf("frame seq = (%d, %d), want (0, 0)", p.SeqA(), p.SeqB())
	}
	if p.DataLen() != 6 {
		t.Errorf("frame length = %d, want 6", p.DataLen())
	}

	want := []byte{0x00, 0x01, 0x00, 0xFF, 0x80, 0x00}
	if !bytes.Equal(p.Data(), want) {
		t.Errorf("frame payload = % x, want % x", p.Data(), want)
	}
}

func TestReceiveTensorFloat64(t *testing.T) {
	t.Parallel()

	link := &scriptLink{}
	s := newSession(link, nil)

	// Q8.8 for 2.0, -0.5, 0.25.
	link.queue = append(link.queue, mkPacket(tbsp.TypeData, 0, 0,
		[]byte{0x00, 0x02, 0x80, 0xFF, 0x40, 0x00}))

	out := make([]float64, 3)
	if err := ReceiveTensor(s, out, 1); err != nil {
		t.Fatalf("ReceiveTensor() = %v", err)
	}

	want := []float64{2.0, -0.5, 0.25}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestTensorRoundTripThroughSession(t *testing.T) {
	t.Parallel()

	link := &scriptLink{respond: ackAll}
	s := newSession(link, nil)

	vals := []float32{0.5, -0.5, 100.25, -100.25, 0}
	if err := SendTensor(s, vals); err != nil {
		t.Fatalf("SendTensor() = %v", err)
	}

	// Loop the encoded payload straight back as a device data frame.
	sent := tbsp.NewPacket(link.sent[0])
	link.queue = append(link.queue,
		mkPacket(tbsp.TypeData, 0, 0, append([]byte(nil), sent.Data()...)))

	recv := &scriptLink{queue: link.queue}
	r := newSession(recv, nil)

	out := make([]float32, len(vals))
	if err := ReceiveTensor(r, out, 1); err != nil {
		t.Fatalf("ReceiveTensor() = %v", err)
	}

	for i := range vals {
		if out[i] != vals[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], vals[i])
		}
	}
}

// -------------------------------------------------------------------------
// Byte Streams & Lifecycle
// -------------------------------------------------------------------------

func TestSendBytesVerbatim(t *testing.T) {
	t.Parallel()

	link := &scriptLink{respond: ackAll}
	s := newSession(link, nil)

	image := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02}
	if err := s.SendBytes(image); err != nil {
		t.Fatalf("SendBytes() = %v", err)
	}

	p := tbsp.NewPacket(link.sent[0])
	if !bytes.Equal(p.Data(), image) {
		t.Errorf("payload = % x, want the image bytes untouched", p.Data())
	}
}

func TestSendResetZeroesCounters(t *testing.T) {
	t.Parallel()

	// ackAll answers the zeroed reset REQ with a zeroed ACK.
	link := &scriptLink{respond: ackAll}
	s := newSession(link, nil)

	// Move the send counter off zero first.
	if err := s.SendBytes([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendBytes() = %v", err)
	}
	if s.tr.SendSeq() != 3 {
		t.Fatalf("sendSeq before reset = %d, want 3", s.tr.SendSeq())
	}

	if err := s.SendReset(); err != nil {
		t.Fatalf("SendReset() = %v", err)
	}
	if s.tr.SendSeq() != 0 || s.tr.RecvSeq() != 0 {
		t.Errorf("counters = (%d, %d), want (0, 0)", s.tr.SendSeq(), s.tr.RecvSeq())
	}
}

func TestCloseReleasesLink(t *testing.T) {
	t.Parallel()

	link := &scriptLink{}
	s := newSession(link, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !link.closed {
		t.Error("Close() did not release the link")
	}
}

// -------------------------------------------------------------------------
// Open Validation
// -------------------------------------------------------------------------

func TestOpenRejectsMalformedMACs(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Interface: "eth0", RemoteMAC: "nope"}); err == nil {
		t.Error("Open() accepted a malformed remote MAC")
	}
	if _, err := Open(Config{Interface: "eth0", LocalMAC: "00:11"}); err == nil {
		t.Error("Open() accepted a malformed local MAC")
	}
}
