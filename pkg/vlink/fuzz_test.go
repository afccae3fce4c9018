// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// ============================================================
// Reply Fuzz Tests
// ============================================================

// TestFuzzReply_RoundTrip frames random payloads and compacts them back
func TestFuzzReply_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		n := rng.Intn(200)
		payload := make([]byte, n)
		rng.Read(payload)
		op := byte(rng.Intn(256))

		raw := EncodeReply(op, payload)
		got, err := ValidateAndCompact(raw, n)
		if err != nil {
			t.Errorf("Round %d (n=%d): unexpected error: %v", i, n, err)
			continue
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Round %d (n=%d): payload mismatch", i, n)
		}
	}
}

// TestFuzzReply_SingleByteCorruption flips one byte and expects a checksum failure
func TestFuzzReply_SingleByteCorruption(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		n := rng.Intn(100)
		payload := make([]byte, n)
		rng.Read(payload)

		raw := EncodeReply(OpReadRAM, payload)
		idx := rng.Intn(len(raw))
		raw[idx] ^= byte(rng.Intn(255) + 1)

		_, err := ValidateAndCompact(raw, n)
		var ce *ChecksumError
		if !errors.As(err, &ce) {
			t.Errorf("Round %d: expected ChecksumError, got %v", i, err)
			continue
		}
		if ce.Frame != idx/FrameSize {
			t.Errorf("Round %d: corrupted frame %d, reported %d", i, idx/FrameSize, ce.Frame)
		}
	}
}

// TestFuzzReply_RandomBytes feeds random buffers and verifies it doesn't panic
func TestFuzzReply_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		buf := make([]byte, rng.Intn(128))
		rng.Read(buf)
		_, _ = ValidateAndCompact(buf, rng.Intn(100))
	}
}

// ============================================================
// Request Fuzz Tests
// ============================================================

// TestFuzzRequest_ChecksumInvariant encodes random well-formed commands
func TestFuzzRequest_ChecksumInvariant(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	ops := []byte{OpStatus, OpItemCount, OpGetItem, OpWriteRAM, OpReadRAM}

	for i := 0; i < rounds; i++ {
		op := ops[rng.Intn(len(ops))]
		n := rng.Intn(MaxControl) + 1
		if op == OpGetItem {
			n = rng.Intn(MaxControl-3) + 4
		}
		cmd := make([]byte, n+1)
		rng.Read(cmd)
		cmd[0] = byte(n)
		cmd[1] = op

		f, err := EncodeRequest(cmd)
		if err != nil {
			t.Errorf("Round %d: unexpected error for % X: %v", i, cmd, err)
			continue
		}
		if !SumZero(f[1:]) {
			t.Errorf("Round %d: frame does not sum to zero: % X", i, f[:])
		}
		if f[n+1] != Checksum(f[1:n+1]) {
			t.Errorf("Round %d: checksum not at offset %d: % X", i, n+1, f[:])
		}
	}
}

// ============================================================
// Wire Type Fuzz Tests
// ============================================================

// TestFuzzWireType_IntegerRoundTrip checks raw -> float -> raw for integer types
func TestFuzzWireType_IntegerRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	types := []WireType{TypeInt16, TypeUint16, TypeInt32, TypeUint32}

	for i := 0; i < rounds; i++ {
		ty := types[rng.Intn(len(types))]
		raw := rng.Uint32()
		if ty.Width() == 2 {
			raw &= 0xFFFF
		}

		v := ToFloat(ty, raw)
		back, err := FromFloat(ty, v)
		if err != nil {
			t.Errorf("Round %d: %s raw 0x%08X: %v", i, ty, raw, err)
			continue
		}
		if DecodeValue(EncodeValue(ty, back)) != raw {
			t.Errorf("Round %d: %s raw 0x%08X came back as 0x%08X", i, ty, raw, back)
		}
	}
}
