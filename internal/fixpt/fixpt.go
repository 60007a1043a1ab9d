// Package fixpt converts between host floating-point values and the
// accelerator's native Q8.8 signed fixed-point format: a 16-bit integer
// with 8 integer and 8 fractional bits, stored little-endian on the wire.
package fixpt

// One is the Q8.8 representation of 1.0 (one fractional unit shifted up
// by the 8 fraction bits).
const One = 1 << 8

// BytesPerValue is the wire size of one encoded value.
const BytesPerValue = 2

// Real is the set of host floating-point types a tensor can hold.
type Real interface {
	~float32 | ~float64
}

// Encode writes vals into dst as Q8.8, low byte first. Each value is
// multiplied by 256 and truncated toward zero; values outside ±127.996
// wrap rather than saturate, matching the device's arithmetic exactly.
// dst must hold at least 2*len(vals) bytes.
func Encode[T Real](dst []byte, vals []T) {
	for i, v := range vals {
		q := int16(int32(v * One))
		dst[2*i] = byte(q)
		dst[2*i+1] = byte(q >> 8)
	}
}

// Decode reads 2*len(vals) bytes of little-endian Q8.8 from src into
// vals, dividing each 16-bit value by 256.
func Decode[T Real](vals []T, src []byte) {
	for i := range vals {
		q := int16(uint16(src[2*i]) | uint16(src[2*i+1])<<8)
		vals[i] = T(q) / One
	}
}

// EncodedLen returns the byte length of n encoded values.
func EncodedLen(n int) int {
	return n * BytesPerValue
}
