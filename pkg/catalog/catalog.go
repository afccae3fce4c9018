// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package catalog holds the resolved register map of an axis controller
// board: every register the board reports, merged with its configuration
// key and bitfield layout.
package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// WireType is the register type code reported by the board.
type WireType = vlink.WireType

// BitField is a named sub-range of a register.
type BitField struct {
	Name     string
	Field    string
	Key      string
	StartBit int
	Size     int
	Value    Value
}

// Mask returns the field's bit mask within the register.
func (b BitField) Mask() uint32 {
	return uint32((uint64(1)<<b.Size)-1) << b.StartBit
}

// Max returns the largest value the field can hold.
func (b BitField) Max() uint32 {
	return uint32((uint64(1) << b.Size) - 1)
}

// Extract returns the field's value from a raw register value.
func (b BitField) Extract(raw uint32) uint32 {
	return (raw & b.Mask()) >> b.StartBit
}

// Insert returns raw with the field replaced by v. v must fit the field.
func (b BitField) Insert(raw, v uint32) uint32 {
	return (raw &^ b.Mask()) | (v<<b.StartBit)&b.Mask()
}

// Register is one board register with its resolved configuration.
type Register struct {
	Index       int
	Name        string
	Field       string
	Key         string
	Address     vlink.Address
	LenTyp      [2]byte
	Flags       [2]byte
	Symbol      [10]byte
	ScaleFactor [4]byte
	Unit        [6]byte
	MinVal      [4]byte
	MaxVal      [4]byte
	Default     []byte
	BitFields   []BitField
	Value       Value
}

// FromDescriptor copies the board-reported part of a register.
func FromDescriptor(index int, d vlink.Descriptor) Register {
	return Register{
		Index:       index,
		Name:        d.Name,
		Address:     d.Address,
		LenTyp:      d.LenTyp,
		Flags:       d.Flags,
		Symbol:      d.Symbol,
		ScaleFactor: d.ScaleFactor,
		Unit:        d.Unit,
		MinVal:      d.MinVal,
		MaxVal:      d.MaxVal,
	}
}

// Type returns the register's wire type.
func (r Register) Type() WireType {
	return WireType(r.LenTyp[0])
}

// Width returns the register width in bytes.
func (r Register) Width() int {
	return r.Type().Width()
}

// HasBitFields reports whether the register is addressed through bitfields.
func (r Register) HasBitFields() bool {
	return len(r.BitFields) > 0
}

// BitField returns the named bitfield.
func (r Register) BitField(name string) (BitField, bool) {
	for _, b := range r.BitFields {
		if b.Name == name {
			return b, true
		}
	}
	return BitField{}, false
}

// DefaultRaw returns the board default read at build time.
func (r Register) DefaultRaw() uint32 {
	return vlink.DecodeValue(r.Default)
}

// UnitString returns the unit label without padding.
func (r Register) UnitString() string {
	return vlink.Descriptor{Unit: r.Unit}.UnitString()
}

// Validate checks the bitfield layout: every field must be non-empty, fit
// the register width and not overlap another field.
func (r Register) Validate() error {
	var errs []error
	bits := r.Type().Bits()

	var used uint32
	for _, b := range r.BitFields {
		switch {
		case b.Size <= 0:
			errs = append(errs, fmt.Errorf("%s.%s: size %d must be positive", r.Name, b.Name, b.Size))
			continue
		case b.StartBit < 0 || b.StartBit+b.Size > bits:
			errs = append(errs, fmt.Errorf("%s.%s: bits %d..%d exceed %d-bit register",
				r.Name, b.Name, b.StartBit, b.StartBit+b.Size-1, bits))
			continue
		}
		if used&b.Mask() != 0 {
			errs = append(errs, fmt.Errorf("%s.%s: overlaps another bitfield", r.Name, b.Name))
		}
		used |= b.Mask()
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (r Register) Clone() Register {
	r.Default = slices.Clone(r.Default)
	r.BitFields = slices.Clone(r.BitFields)
	return r
}

// Catalog is the ordered, immutable register map of one board.
type Catalog struct {
	regs   []Register
	byName map[string]int
}

// New builds a catalog. Register indices are reassigned to their position.
func New(regs []Register) (*Catalog, error) {
	c := &Catalog{
		regs:   make([]Register, len(regs)),
		byName: make(map[string]int, len(regs)),
	}
	for i, r := range regs {
		if r.Name == "" {
			return nil, fmt.Errorf("catalog: register %d has no name", i)
		}
		if j, dup := c.byName[r.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate register %q at %d and %d", r.Name, j, i)
		}
		r = r.Clone()
		r.Index = i
		c.regs[i] = r
		c.byName[r.Name] = i
	}
	return c, nil
}

// Len returns the number of registers.
func (c *Catalog) Len() int {
	return len(c.regs)
}

// At returns the register at index i.
func (c *Catalog) At(i int) (Register, bool) {
	if i < 0 || i >= len(c.regs) {
		return Register{}, false
	}
	return c.regs[i].Clone(), true
}

// Lookup returns the register with the given name.
func (c *Catalog) Lookup(name string) (Register, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Register{}, false
	}
	return c.regs[i].Clone(), true
}

// Registers returns a copy of every register in board order.
func (c *Catalog) Registers() []Register {
	out := make([]Register, len(c.regs))
	for i, r := range c.regs {
		out[i] = r.Clone()
	}
	return out
}
