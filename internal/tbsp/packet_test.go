package tbsp_test

import (
	"bytes"
	"testing"

	"github.com/neuflow/nfeth/internal/tbsp"
)

// -------------------------------------------------------------------------
// TestPacketRoundTrip — header serialize/parse recovers every field
// -------------------------------------------------------------------------

func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  tbsp.Type
		seqA uint32
		seqB uint32
		data []byte
	}{
		{
			name: "zeroed reset",
			typ:  tbsp.TypeReset,
		},
		{
			name: "data frame with payload",
			typ:  tbsp.TypeData,
			seqA: 1489,
			seqB: 100,
			data: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "req frame at max counters",
			typ:  tbsp.TypeReq,
			seqA: 0xFFFFFFFF,
			seqB: 0xFFFFFFFF,
			data: bytes.Repeat([]byte{0xAB}, 16),
		},
		{
			name: "ack frame",
			typ:  tbsp.TypeAck,
			seqA: 2000,
			seqB: 6,
		},
		{
			name: "full data frame",
			typ:  tbsp.TypeData,
			seqA: 0xDEADBEEF,
			seqB: 0xCAFEBABE,
			data: bytes.Repeat([]byte{0x5A}, tbsp.DataLen),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, tbsp.MaxPacketLen)
			p := tbsp.NewPacket(buf)
			p.ZeroHeader()
			p.SetType(tt.typ)
			p.SetSeqA(tt.seqA)
			p.SetSeqB(tt.seqB)
			p.SetDataLen(uint16(len(tt.data)))
			copy(buf[tbsp.HeaderLen:], tt.data)

			// Re-parse through a fresh view over a copy of the wire bytes.
			wire := append([]byte(nil), p.Bytes()...)
			q := tbsp.NewPacket(wire)

			if q.Type() != tt.typ {
				t.Errorf("Type() = %v, want %v", q.Type(), tt.typ)
			}
			if q.SeqA() != tt.seqA {
				t.Errorf("SeqA() = %d, want %d", q.SeqA(), tt.seqA)
			}
			if q.SeqB() != tt.seqB {
				t.Errorf("SeqB() = %d, want %d", q.SeqB(), tt.seqB)
			}
			if int(q.DataLen()) != len(tt.data) {
				t.Errorf("DataLen() = %d, want %d", q.DataLen(), len(tt.data))
			}
			if !bytes.Equal(q.Data(), tt.data) && len(tt.data) > 0 {
				t.Errorf("Data() = % x, want % x", q.Data(), tt.data)
			}
		})
	}
}

// -------------------------------------------------------------------------
// TestPacketHeaderLayout — field offsets and byte order are fixed
// -------------------------------------------------------------------------

func TestPacketHeaderLayout(t *testing.T) {
	t.Parallel()

	buf := make([]byte, tbsp.MaxPacketLen)
	p := tbsp.NewPacket(buf)
	p.SetType(tbsp.TypeData)
	p.SetSeqA(0x01020304)
	p.SetSeqB(0x05060708)
	p.SetDataLen(0x090A)

	want := []byte{0x02, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}
	if !bytes.Equal(buf[:tbsp.HeaderLen], want) {
		t.Errorf("header = % x, want % x", buf[:tbsp.HeaderLen], want)
	}
}

// -------------------------------------------------------------------------
// TestPacketUnknownType — unrecognized type bytes read as TypeError
// -------------------------------------------------------------------------

func TestPacketUnknownType(t *testing.T) {
	t.Parallel()

	for _, b := range []byte{0, 5, 6, 0x7F, 0xFF} {
		buf := make([]byte, tbsp.HeaderLen)
		buf[0] = b

		if typ := tbsp.NewPacket(buf).Type(); typ != tbsp.TypeError {
			t.Errorf("type byte %#x read as %v, want TypeError", b, typ)
		}
	}
}

// -------------------------------------------------------------------------
// TestPacketDataClamped — a corrupt length field cannot index past the buffer
// -------------------------------------------------------------------------

func TestPacketDataClamped(t *testing.T) {
	t.Parallel()

	buf := make([]byte, tbsp.HeaderLen+8)
	p := tbsp.NewPacket(buf)
	p.SetType(tbsp.TypeData)
	p.SetDataLen(0xFFFF)

	if got := len(p.Data()); got != 8 {
		t.Errorf("Data() length = %d, want clamp to 8", got)
	}
}

// -------------------------------------------------------------------------
// TestTypeString
// -------------------------------------------------------------------------

func TestTypeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  tbsp.Type
		want string
	}{
		{tbsp.TypeError, "Error"},
		{tbsp.TypeReset, "Reset"},
		{tbsp.TypeData, "Data"},
		{tbsp.TypeReq, "Req"},
		{tbsp.TypeAck, "Ack"},
		{tbsp.Type(9), "Unknown(9)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", uint8(tt.typ), got, tt.want)
		}
	}
}
