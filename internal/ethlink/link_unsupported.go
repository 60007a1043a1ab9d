//go:build !linux && !darwin

package ethlink

import "fmt"

// openLink reports that no raw-frame backend exists for this platform.
// The driver speaks AF_PACKET on Linux and BPF on Darwin; other systems
// have no supported path to the accelerator.
func openLink(_ Config, _ *pacer) (Link, error) {
	return nil, fmt.Errorf("no raw Ethernet backend on this platform: %w", ErrLinkIO)
}
