// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import "fmt"

// Address is a 3-byte board RAM address.
type Address [AddressSize]byte

// String formats the address as hex bytes in wire order.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X", a[0], a[1], a[2])
}

// Frame is an encoded 16-byte request.
type Frame [FrameSize]byte

// Control returns the length/control byte.
func (f Frame) Control() byte {
	return f[0]
}

// Opcode returns the request opcode.
func (f Frame) Opcode() byte {
	return f[1]
}

// EncodeRequest builds a request frame from a command.
//
// cmd[0] is the length/control byte and cmd[1] the opcode. Get-item commands
// carry the item index in cmd[2], which is placed at frame offset 4. Read and
// write RAM commands carry cmd[2:cmd[0]+1] (address, then size or data), copied
// to the same offsets in the frame. The checksum lands at offset cmd[0]+1.
func EncodeRequest(cmd []byte) (Frame, error) {
	var f Frame

	if len(cmd) < 2 {
		return f, fmt.Errorf("%w: need control and opcode bytes, got %d bytes", ErrInvalidCommand, len(cmd))
	}

	n := int(cmd[0])
	if n < 1 || n > MaxControl {
		return f, fmt.Errorf("%w: control byte %d out of range (1-%d)", ErrInvalidCommand, n, MaxControl)
	}

	f[0] = cmd[0]
	f[1] = cmd[1]

	switch cmd[1] {
	case OpGetItem:
		if len(cmd) < 3 {
			return f, fmt.Errorf("%w: get-item command missing index", ErrInvalidCommand)
		}
		if n < 4 {
			return f, fmt.Errorf("%w: get-item control byte %d would overwrite the index", ErrInvalidCommand, n)
		}
		f[4] = cmd[2]
	case OpWriteRAM, OpReadRAM:
		if len(cmd) < n+1 {
			return f, fmt.Errorf("%w: command has %d bytes, control byte needs %d", ErrInvalidCommand, len(cmd), n+1)
		}
		copy(f[2:n+1], cmd[2:n+1])
	}

	f[n+1] = Checksum(f[1:])
	return f, nil
}

func mustEncode(cmd []byte) Frame {
	f, err := EncodeRequest(cmd)
	if err != nil {
		panic(fmt.Sprintf("vlink: encode error: %v", err))
	}
	return f
}

// StatusRequest asks whether the board is ready.
func StatusRequest() Frame {
	return mustEncode([]byte{1, OpStatus})
}

// ItemCountRequest asks for the number of register descriptors.
func ItemCountRequest() Frame {
	return mustEncode([]byte{1, OpItemCount})
}

// ItemRequest asks for the descriptor at index.
func ItemRequest(index uint8) Frame {
	return mustEncode([]byte{5, OpGetItem, index})
}

// ReadRAMRequest reads size bytes at addr.
func ReadRAMRequest(addr Address, size int) (Frame, error) {
	if size < 1 || size > 4 {
		return Frame{}, fmt.Errorf("%w: read size %d (valid 1-4)", ErrInvalidCommand, size)
	}
	return EncodeRequest([]byte{5, OpReadRAM, addr[0], addr[1], addr[2], byte(size)})
}

// WriteRAMRequest writes data at addr.
func WriteRAMRequest(addr Address, data []byte) (Frame, error) {
	if len(data) < 1 || len(data) > 4 {
		return Frame{}, fmt.Errorf("%w: write size %d (valid 1-4)", ErrInvalidCommand, len(data))
	}
	cmd := make([]byte, 0, 5+len(data))
	cmd = append(cmd, byte(4+len(data)), OpWriteRAM, addr[0], addr[1], addr[2])
	cmd = append(cmd, data...)
	return EncodeRequest(cmd)
}

// ExpectedReply returns the logical reply size for a request frame.
func ExpectedReply(f Frame) int {
	switch f.Opcode() {
	case OpStatus:
		return StatusReplySize
	case OpItemCount:
		return ItemCountReplySize
	case OpGetItem:
		return DescriptorSize
	case OpWriteRAM:
		return WriteReplySize
	case OpReadRAM:
		return int(f[5])
	}
	return 0
}
