package ethlink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HardwareAddr is a 48-bit Ethernet MAC address.
type HardwareAddr [6]byte

// Broadcast is the all-ones Ethernet broadcast address. It is the default
// local address when the caller does not supply one: the device addresses
// the host by broadcast until told otherwise.
var Broadcast = HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// DefaultRemote is the factory MAC address of the neuFlow accelerator
// (00:80:10:64:00:00).
var DefaultRemote = HardwareAddr{0x00, 0x80, 0x10, 0x64, 0x00, 0x00}

// ErrBadHardwareAddr indicates a MAC address string that does not parse as
// six colon-separated hex octets.
var ErrBadHardwareAddr = errors.New("malformed hardware address")

// ParseHardwareAddr parses a colon-separated MAC address string
// ("00:80:10:64:00:00") into a HardwareAddr.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return HardwareAddr{}, fmt.Errorf("parse %q: want 6 octets, got %d: %w",
			s, len(parts), ErrBadHardwareAddr)
	}

	var addr HardwareAddr
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return HardwareAddr{}, fmt.Errorf("parse %q octet %d: %w",
				s, i, ErrBadHardwareAddr)
		}
		addr[i] = byte(v)
	}

	return addr, nil
}

// String formats the address as six colon-separated lowercase hex octets.
func (a HardwareAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is all zeroes (i.e. unset).
func (a HardwareAddr) IsZero() bool {
	return a == HardwareAddr{}
}
