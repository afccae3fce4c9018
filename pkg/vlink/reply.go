// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

// blocks returns the number of reply frames needed for n payload bytes.
// An empty payload still produces one acknowledgement frame.
func blocks(n int) int {
	b := (n + BlockPayload - 1) / BlockPayload
	if b == 0 {
		return 1
	}
	return b
}

// PhysicalLength returns the number of bytes on the wire for a reply carrying
// n payload bytes: every frame adds a two byte header and a checksum.
func PhysicalLength(n int) int {
	return n + blocks(n)*(ReplyHeaderSize+1)
}

// EncodeReply frames payload the way the board sends it. Frame k is
// [opcode][k][payload chunk][checksum], with the checksum chosen so the frame
// sums to zero modulo 256.
func EncodeReply(opcode byte, payload []byte) []byte {
	out := make([]byte, 0, PhysicalLength(len(payload)))
	for b := 0; b < blocks(len(payload)); b++ {
		start := b * BlockPayload
		end := min(start+BlockPayload, len(payload))

		frameStart := len(out)
		out = append(out, opcode, byte(b))
		out = append(out, payload[start:end]...)
		out = append(out, Checksum(out[frameStart:]))
	}
	return out
}

// ReplyOpcode returns the opcode echoed in the first reply frame.
func ReplyOpcode(buf []byte) byte {
	if len(buf) == 0 {
		return 0
	}
	return buf[0]
}

// ValidateAndCompact checks the reply carrying n payload bytes and returns the
// payload with framing removed.
//
// Every 16-byte chunk of the physical reply (the last one may be shorter) must
// sum to zero modulo 256. Compaction skips the first two header bytes and then
// three bytes (checksum plus next header) after every thirteen payload bytes,
// i.e. at logical offsets 13, 26, 39, 52, 65 and onwards.
func ValidateAndCompact(buf []byte, n int) ([]byte, error) {
	total := PhysicalLength(n)
	if len(buf) < total {
		return nil, &ShortReplyError{Got: len(buf), Want: total}
	}
	buf = buf[:total]

	for i, frame := 0, 0; i < total; i, frame = i+FrameSize, frame+1 {
		end := min(i+FrameSize, total)
		if !SumZero(buf[i:end]) {
			var sum byte
			for _, b := range buf[i:end] {
				sum += b
			}
			return nil, &ChecksumError{Frame: frame, Sum: sum}
		}
	}

	payload := make([]byte, n)
	skip := 0
	for i := 0; i < n; i++ {
		if i == 0 {
			skip += ReplyHeaderSize
		} else if i%BlockPayload == 0 {
			skip += ReplyHeaderSize + 1
		}
		payload[i] = buf[i+skip]
	}
	return payload, nil
}
