// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"bytes"
	"fmt"
)

// Descriptor is a register description as reported by the board.
type Descriptor struct {
	Name        string
	Address     Address
	LenTyp      [2]byte
	Flags       [2]byte
	Symbol      [10]byte
	ScaleFactor [4]byte
	Unit        [6]byte
	MinVal      [4]byte
	MaxVal      [4]byte
}

// Type returns the wire type code of the register.
func (d Descriptor) Type() WireType {
	return WireType(d.LenTyp[0])
}

// SymbolString returns the symbol with NUL padding removed.
func (d Descriptor) SymbolString() string {
	return cString(d.Symbol[:])
}

// UnitString returns the unit label with NUL padding removed.
func (d Descriptor) UnitString() string {
	return cString(d.Unit[:])
}

// ParseDescriptor decodes a compacted get-item payload.
func ParseDescriptor(payload []byte) (Descriptor, error) {
	var d Descriptor
	if len(payload) < descEnd {
		return d, fmt.Errorf("descriptor payload too short: %d bytes (need %d)", len(payload), descEnd)
	}

	d.Name = cString(payload[descName:descAddress])
	copy(d.Address[:], payload[descAddress:descLenTyp])
	copy(d.LenTyp[:], payload[descLenTyp:descFlags])
	copy(d.Flags[:], payload[descFlags:descSymbol])
	copy(d.Symbol[:], payload[descSymbol:descScale])
	copy(d.ScaleFactor[:], payload[descScale:descUnit])
	copy(d.Unit[:], payload[descUnit:descMin])
	copy(d.MinVal[:], payload[descMin:descMax])
	copy(d.MaxVal[:], payload[descMax:descEnd])

	if d.Name == "" {
		return d, fmt.Errorf("descriptor has an empty name")
	}
	return d, nil
}

// Encode lays the descriptor out as a DescriptorSize get-item payload.
func (d Descriptor) Encode() []byte {
	out := make([]byte, DescriptorSize)
	copy(out[descName:descAddress], d.Name)
	copy(out[descAddress:], d.Address[:])
	copy(out[descLenTyp:], d.LenTyp[:])
	copy(out[descFlags:], d.Flags[:])
	copy(out[descSymbol:], d.Symbol[:])
	copy(out[descScale:], d.ScaleFactor[:])
	copy(out[descUnit:], d.Unit[:])
	copy(out[descMin:], d.MinVal[:])
	copy(out[descMax:], d.MaxVal[:])
	return out
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
