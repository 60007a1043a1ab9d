// Package tbsp implements the reliable stream protocol the host speaks
// with the neuFlow accelerator over raw Ethernet frames.
//
// Each frame payload carries one TBSP packet: an 11-byte header (type tag,
// two 32-bit byte-sequence positions, 16-bit data length, all big-endian)
// followed by up to 1489 data bytes. Streams are optimistic: data frames
// are transmitted without waiting, the final frame of a stream doubles as
// an end-of-stream request, and the device's ACK carries the byte
// positions both sides resynchronise on.
package tbsp

import (
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants
// -------------------------------------------------------------------------

const (
	// HeaderLen is the TBSP header length in bytes: type (1) + first
	// sequence (4) + second sequence (4) + data length (2).
	HeaderLen = 11

	// DataLen is the maximum data bytes one packet can carry: the 1500
	// byte Ethernet payload minus the TBSP header.
	DataLen = 1489

	// MaxPacketLen is the largest on-wire TBSP packet.
	MaxPacketLen = HeaderLen + DataLen
)

// Header field offsets.
const (
	offType   = 0
	offSeqA   = 1
	offSeqB   = 5
	offLength = 9
)

// -------------------------------------------------------------------------
// Type Tag
// -------------------------------------------------------------------------

// Type is the TBSP packet type tag.
type Type uint8

const (
	// TypeError is the sentinel returned for unrecognized type bytes. It
	// is never transmitted by the host.
	TypeError Type = 0

	// TypeReset asks the device to drop all stream state and return both
	// byte counters to zero.
	TypeReset Type = 1

	// TypeData carries stream bytes that are not the end of the stream.
	TypeData Type = 2

	// TypeReq carries the final bytes of a stream and requests the
	// device's current counters in reply.
	TypeReq Type = 3

	// TypeAck reports the device's counters; it carries no data.
	TypeAck Type = 4
)

// typeNames maps type tags to human-readable strings.
var typeNames = [5]string{
	"Error",
	"Reset",
	"Data",
	"Req",
	"Ack",
}

// String returns the human-readable name for the type tag.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// -------------------------------------------------------------------------
// Packet View
// -------------------------------------------------------------------------

// Packet is a bounds-safe view onto the TBSP region of a pre-allocated
// frame buffer. Accessors read and write the header fields in place; no
// allocation, no copying. The buffer must be at least HeaderLen bytes.
type Packet struct {
	buf []byte
}

// NewPacket wraps buf as a Packet view.
func NewPacket(buf []byte) Packet {
	return Packet{buf: buf}
}

// ZeroHeader clears the header region.
func (p Packet) ZeroHeader() {
	clear(p.buf[:HeaderLen])
}

// Type returns the packet's type tag, or TypeError if the stored byte is
// not one of the four known values.
func (p Packet) Type() Type {
	switch t := Type(p.buf[offType]); t {
	case TypeReset, TypeData, TypeReq, TypeAck:
		return t
	default:
		return TypeError
	}
}

// SetType stores the low 8 bits of t as the type tag.
func (p Packet) SetType(t Type) {
	p.buf[offType] = uint8(t)
}

// SeqA returns the first sequence field. On a host-originated packet it is
// the host's send-side byte position; on a device DATA packet it is the
// device's send position for those bytes.
func (p Packet) SeqA() uint32 {
	return binary.BigEndian.Uint32(p.buf[offSeqA:])
}

// SetSeqA stores the first sequence field.
func (p Packet) SetSeqA(v uint32) {
	binary.BigEndian.PutUint32(p.buf[offSeqA:], v)
}

// SeqB returns the second sequence field: the sender's view of how many
// bytes it has accepted in the opposite direction.
func (p Packet) SeqB() uint32 {
	return binary.BigEndian.Uint32(p.buf[offSeqB:])
}

// SetSeqB stores the second sequence field.
func (p Packet) SetSeqB(v uint32) {
	binary.BigEndian.PutUint32(p.buf[offSeqB:], v)
}

// DataLen returns the data length field.
func (p Packet) DataLen() uint16 {
	return binary.BigEndian.Uint16(p.buf[offLength:])
}

// SetDataLen stores the data length field.
func (p Packet) SetDataLen(v uint16) {
	binary.BigEndian.PutUint16(p.buf[offLength:], v)
}

// Data returns the data region for the stored length, clamped to the
// underlying buffer so a corrupt length field cannot index past it.
func (p Packet) Data() []byte {
	end := HeaderLen + int(p.DataLen())
	if end > len(p.buf) {
		end = len(p.buf)
	}
	return p.buf[HeaderLen:end]
}

// Bytes returns the full on-wire packet: header plus data.
func (p Packet) Bytes() []byte {
	return p.buf[:HeaderLen+len(p.Data())]
}
