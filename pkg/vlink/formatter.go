// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"fmt"
	"strings"
	"time"
)

// FormatOpcode returns the human-readable name for an opcode
func FormatOpcode(op byte) string {
	switch op {
	case OpStatus:
		return "STATUS"
	case OpItemCount:
		return "ITEM_COUNT"
	case OpGetItem:
		return "GET_ITEM"
	case OpWriteRAM:
		return "WRITE_RAM"
	case OpReadRAM:
		return "READ_RAM"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", op)
	}
}

// FormatFrame formats a request frame as a single trace line
func FormatFrame(dir string, f Frame) string {
	timestamp := time.Now().Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s %s (0x%02X) ctl=%d % X\n",
		timestamp, dir, FormatOpcode(f.Opcode()), f.Opcode(), f.Control(), f[:])
}

// FormatReply formats a physical reply, one line per 16-byte frame
func FormatReply(dir string, raw []byte) string {
	timestamp := time.Now().Format("15:04:05.000")

	op := ReplyOpcode(raw)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s (0x%02X) len=%d\n", timestamp, dir, FormatOpcode(op), op, len(raw))
	for i := 0; i < len(raw); i += FrameSize {
		end := min(i+FrameSize, len(raw))
		fmt.Fprintf(&b, "  %3d: % X\n", i, raw[i:end])
	}
	return b.String()
}

// FormatDescriptor formats a register descriptor
func FormatDescriptor(d Descriptor) string {
	return fmt.Sprintf("%-32s addr=%s type=%-7s flags=%02X%02X symbol=%q unit=%q",
		d.Name, d.Address, d.Type(), d.Flags[0], d.Flags[1], d.SymbolString(), d.UnitString())
}
