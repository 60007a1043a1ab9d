package ethlink

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"
)

// -------------------------------------------------------------------------
// In-Kernel Receive Filter
// -------------------------------------------------------------------------

// filterProgram builds the classic BPF program the Darwin backend installs
// on its BPF device. The program accepts a frame iff its Ethertype is
// 0x88B5 and its source MAC equals remote, and rejects everything else at
// the kernel boundary:
//
//	ld  half [12]           ; Ethertype
//	jeq 0x88B5 else drop
//	ld  word [6]            ; source MAC, high 4 bytes
//	jeq remote[0:4] else drop
//	ld  half [10]           ; source MAC, low 2 bytes
//	jeq remote[4:6] else drop
//	ret 0xFFFFFFFF          ; keep whole frame
//	ret 0                   ; drop
//
// The destination MAC is left to the transmitting device; the source MAC
// plus the private Ethertype already pin the frame to the one peer.
func filterProgram(remote HardwareAddr) []bpf.Instruction {
	srcHigh := binary.BigEndian.Uint32(remote[0:4])
	srcLow := uint32(binary.BigEndian.Uint16(remote[4:6]))

	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(EtherType), SkipFalse: 5},
		bpf.LoadAbsolute{Off: 6, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: srcHigh, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 10, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: srcLow, SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFFFFFF},
		bpf.RetConstant{Val: 0},
	}
}

// assembleFilter assembles the receive filter for remote into raw
// instructions ready for a BIOCSETF ioctl.
func assembleFilter(remote HardwareAddr) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(filterProgram(remote))
	if err != nil {
		return nil, fmt.Errorf("assemble receive filter for %s: %w", remote, err)
	}
	return raw, nil
}
