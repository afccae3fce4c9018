// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"fmt"
	"math"
)

// WireType is the type code carried in the first length/type byte of a
// register descriptor.
type WireType uint8

const (
	TypeInt16   WireType = 8
	TypeUint16  WireType = 9
	TypeInt32   WireType = 10
	TypeUint32  WireType = 11
	TypeFloat32 WireType = 12
)

// Valid reports whether t is a known type code.
func (t WireType) Valid() bool {
	return t >= TypeInt16 && t <= TypeFloat32
}

// Width returns the register width in bytes. Codes above uint16 are four
// bytes wide, everything else two.
func (t WireType) Width() int {
	if t > TypeUint16 {
		return 4
	}
	return 2
}

// Bits returns the register width in bits.
func (t WireType) Bits() int {
	return t.Width() * 8
}

func (t WireType) String() string {
	switch t {
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeFloat32:
		return "float32"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseWireType maps a type name back to its code.
func ParseWireType(name string) (WireType, error) {
	for t := TypeInt16; t <= TypeFloat32; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown wire type %q", name)
}

// EncodeValue serializes the low Width() bytes of raw, little-endian.
func EncodeValue(t WireType, raw uint32) []byte {
	out := make([]byte, t.Width())
	for i := range out {
		out[i] = byte(raw >> (8 * i))
	}
	return out
}

// DecodeValue assembles up to four little-endian bytes.
func DecodeValue(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

// ToFloat interprets raw register bits as a number of type t. Signed types are
// sign-extended and float32 is reinterpreted bit for bit.
func ToFloat(t WireType, raw uint32) float64 {
	switch t {
	case TypeInt16:
		return float64(int16(raw))
	case TypeUint16:
		return float64(uint16(raw))
	case TypeInt32:
		return float64(int32(raw))
	case TypeFloat32:
		return float64(math.Float32frombits(raw))
	}
	return float64(raw)
}

// FromFloat converts v to the raw register bits of type t. Integer types
// reject fractional or out-of-range values.
func FromFloat(t WireType, v float64) (uint32, error) {
	if t == TypeFloat32 {
		return math.Float32bits(float32(v)), nil
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("value %v is not an integer for %s", v, t)
	}

	var lo, hi float64
	switch t {
	case TypeInt16:
		lo, hi = math.MinInt16, math.MaxInt16
	case TypeUint16:
		lo, hi = 0, math.MaxUint16
	case TypeInt32:
		lo, hi = math.MinInt32, math.MaxInt32
	case TypeUint32:
		lo, hi = 0, math.MaxUint32
	default:
		return 0, fmt.Errorf("unknown wire type %d", uint8(t))
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %v out of range for %s", v, t)
	}

	if v < 0 {
		return uint32(int32(v)), nil
	}
	return uint32(v), nil
}
