// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vlink implements the register protocol spoken by the axis controller board.
//
// Requests are fixed 16-byte frames carrying a length/control byte, an opcode,
// optional address or argument bytes and a trailing checksum. Replies arrive as
// a stream of 16-byte frames, each holding a two byte header, up to thirteen
// payload bytes and a checksum. This package provides request encoding, reply
// validation and compaction, register descriptor parsing and a retrying
// request/response channel over any byte stream.
package vlink

import "time"

// Frame geometry
const (
	FrameSize       = 16
	ReplyHeaderSize = 2
	BlockPayload    = 13 // payload bytes carried by one reply frame
	AddressSize     = 3
	MaxControl      = FrameSize - 2 // checksum must land inside the frame
)

// Opcodes
const (
	OpStatus    = 0x00
	OpItemCount = 0x01
	OpGetItem   = 0x02
	OpWriteRAM  = 0x03
	OpReadRAM   = 0x04
)

// Expected logical reply sizes
const (
	StatusReplySize    = 2
	ItemCountReplySize = 2
	DescriptorSize     = 70
	WriteReplySize     = 0
)

// Descriptor field offsets inside a compacted get-item payload
const (
	descName    = 0
	descAddress = 32
	descLenTyp  = 35
	descFlags   = 37
	descSymbol  = 39
	descScale   = 49
	descUnit    = 53
	descMin     = 59
	descMax     = 63
	descEnd     = 67

	NameSize = descAddress - descName
)

// DefaultRetries is the number of attempts an exchange gets before it fails.
const DefaultRetries = 3

// DefaultDrainWindow is how long the channel listens for leftover reply bytes
// before retrying a failed attempt.
const DefaultDrainWindow = 100 * time.Millisecond
