package nfeth

import (
	"github.com/neuflow/nfeth/internal/ethlink"
	"github.com/neuflow/nfeth/internal/tbsp"
)

// Sentinel errors surfaced by a Session. Conditions the transport recovers
// from on its own — stale retransmits, carryover underflow — never escape;
// these two do.
var (
	// ErrLinkIO indicates the OS socket or BPF handle failed on open,
	// bind, filter, send, or receive. Fatal to the session.
	ErrLinkIO = ethlink.ErrLinkIO

	// ErrResetExhausted indicates ten reset attempts failed to elicit a
	// zeroed ACK from the device.
	ErrResetExhausted = tbsp.ErrResetExhausted
)
