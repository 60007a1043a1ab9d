package nfeth

import (
	"fmt"

	"github.com/neuflow/nfeth/internal/fixpt"
)

// Real is the set of host floating-point types a tensor can hold. The
// driver converts either precision to the device's 16-bit Q8.8 format on
// the wire.
type Real = fixpt.Real

// SendTensor encodes vals as Q8.8 — each value multiplied by 256 and
// truncated toward zero, values outside ±127.996 wrapping rather than
// saturating — and streams the 2·len(vals) bytes to the device.
func SendTensor[T Real](s *Session, vals []T) error {
	buf := make([]byte, fixpt.EncodedLen(len(vals)))
	fixpt.Encode(buf, vals)

	if err := s.tr.SendStream(buf); err != nil {
		return fmt.Errorf("send tensor of %d values: %w", len(vals), err)
	}
	return nil
}

// ReceiveTensor requests 2·len(out) bytes from the device and decodes
// them as little-endian Q8.8 into out. The height parameter is accepted
// for device-API compatibility and unused at this protocol layer.
func ReceiveTensor[T Real](s *Session, out []T, height int) error {
	_ = height

	buf := make([]byte, fixpt.EncodedLen(len(out)))
	if err := s.tr.RecvStream(buf); err != nil {
		return fmt.Errorf("receive tensor of %d values: %w", len(out), err)
	}

	fixpt.Decode(out, buf)
	return nil
}
