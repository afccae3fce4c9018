// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package axis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Scalar is a Go type with a matching register wire type.
type Scalar interface {
	int16 | uint16 | int32 | uint32 | float32
}

func wireTypeOf[T Scalar]() catalog.WireType {
	var zero T
	switch any(zero).(type) {
	case int16:
		return vlink.TypeInt16
	case uint16:
		return vlink.TypeUint16
	case int32:
		return vlink.TypeInt32
	case uint32:
		return vlink.TypeUint32
	}
	return vlink.TypeFloat32
}

func toRaw[T Scalar](v T) uint32 {
	switch x := any(v).(type) {
	case int16:
		return uint32(uint16(x))
	case uint16:
		return uint32(x)
	case int32:
		return uint32(x)
	case uint32:
		return x
	case float32:
		return math.Float32bits(x)
	}
	return 0
}

func fromRaw[T Scalar](raw uint32) T {
	var out T
	switch p := any(&out).(type) {
	case *int16:
		*p = int16(raw)
	case *uint16:
		*p = uint16(raw)
	case *int32:
		*p = int32(raw)
	case *uint32:
		*p = raw
	case *float32:
		*p = math.Float32frombits(raw)
	}
	return out
}

func (s *Session) checkType(r catalog.Register, want catalog.WireType) error {
	if r.Type() != want {
		return &TypeMismatchError{Register: r.Name, Want: want, Got: r.Type()}
	}
	return nil
}

// ReadAs reads a register as T. T must match the register's wire type.
func ReadAs[T Scalar](ctx context.Context, s *Session, name string) (T, error) {
	var zero T
	r, err := s.Lookup(name)
	if err != nil {
		return zero, err
	}
	if err := s.checkType(r, wireTypeOf[T]()); err != nil {
		return zero, err
	}

	s.mu.Lock()
	raw, err := s.readRaw(ctx, r)
	s.mu.Unlock()
	if err != nil {
		return zero, err
	}
	s.rec.Record(oplog.Record{Kind: oplog.KindRead, Register: name, Value: fmt.Sprint(fromRaw[T](raw))})
	return fromRaw[T](raw), nil
}

// WriteAs writes v to a plain register. T must match the register's wire
// type; bitfield registers must be written through WriteBit.
func WriteAs[T Scalar](ctx context.Context, s *Session, name string, v T) error {
	r, err := s.Lookup(name)
	if err != nil {
		return err
	}
	if r.HasBitFields() {
		return fmt.Errorf("%s has bitfields, write %s.<bit>: %w", name, name, ErrConfiguration)
	}
	if err := s.checkType(r, wireTypeOf[T]()); err != nil {
		return err
	}

	s.mu.Lock()
	err = s.writeRaw(ctx, r, toRaw(v))
	s.mu.Unlock()
	s.rec.Record(oplog.Record{Kind: oplog.KindWrite, Register: name, Value: fmt.Sprint(v), Err: err})
	return err
}

// ReadFloat reads a plain register of any wire type as a float64.
func (s *Session) ReadFloat(ctx context.Context, name string) (float64, error) {
	r, err := s.Lookup(name)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	raw, err := s.readRaw(ctx, r)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return vlink.ToFloat(r.Type(), raw), nil
}

// WriteFloat converts v to the register's wire type and writes it.
func (s *Session) WriteFloat(ctx context.Context, name string, v float64) error {
	r, err := s.Lookup(name)
	if err != nil {
		return err
	}
	if r.HasBitFields() {
		return fmt.Errorf("%s has bitfields, write %s.<bit>: %w", name, name, ErrConfiguration)
	}
	raw, err := vlink.FromFloat(r.Type(), v)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrValueOutOfRange)
	}

	s.mu.Lock()
	err = s.writeRaw(ctx, r, raw)
	s.mu.Unlock()
	s.rec.Record(oplog.Record{Kind: oplog.KindWrite, Register: name, Value: strconv.FormatFloat(v, 'g', -1, 64), Err: err})
	return err
}

// checkLayout rejects a register whose bitfields overlap or do not fit its
// wire width. Such fields cannot be written without touching other bits.
func checkLayout(r catalog.Register) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %s: invalid bitfield layout: %v", ErrConfiguration, r.Name, err)
	}
	return nil
}

// bitField resolves reg.bit, enforcing that reg is a bitfield register.
func (s *Session) bitField(reg, bit string) (catalog.Register, catalog.BitField, error) {
	r, err := s.Lookup(reg)
	if err != nil {
		return r, catalog.BitField{}, err
	}
	if !r.HasBitFields() {
		return r, catalog.BitField{}, fmt.Errorf("%s has no bitfields, cannot address %s.%s: %w", reg, reg, bit, ErrConfiguration)
	}
	if err := checkLayout(r); err != nil {
		return r, catalog.BitField{}, err
	}
	b, ok := r.BitField(bit)
	if !ok {
		return r, b, fmt.Errorf("bitfield %s.%s: %w", reg, bit, ErrNotFound)
	}
	return r, b, nil
}

// WriteBit sets one bitfield, leaving every other bit of the register as
// read from the board.
func (s *Session) WriteBit(ctx context.Context, reg, bit string, v uint32) error {
	r, b, err := s.bitField(reg, bit)
	if err != nil {
		return err
	}
	if v > b.Max() {
		return &RangeError{Register: reg, BitField: bit, Value: v, Max: b.Max()}
	}

	_, err = s.modify(ctx, r, func(raw uint32) uint32 { return b.Insert(raw, v) })
	s.rec.Record(oplog.Record{Kind: oplog.KindWriteBit, Register: reg, BitField: bit, Value: strconv.FormatUint(uint64(v), 10), Err: err})
	return err
}

// ReadBit returns one bitfield's value.
func (s *Session) ReadBit(ctx context.Context, reg, bit string) (uint32, error) {
	r, b, err := s.bitField(reg, bit)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	raw, err := s.readRaw(ctx, r)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return b.Extract(raw), nil
}

// WriteBits sets several bitfields of one register in a single
// read-modify-write cycle. Nothing is written if any value is invalid.
func (s *Session) WriteBits(ctx context.Context, reg string, values map[string]uint32) error {
	r, err := s.Lookup(reg)
	if err != nil {
		return err
	}
	if !r.HasBitFields() {
		return fmt.Errorf("%s has no bitfields: %w", reg, ErrConfiguration)
	}
	if err := checkLayout(r); err != nil {
		return err
	}
	for name, v := range values {
		b, ok := r.BitField(name)
		if !ok {
			return fmt.Errorf("bitfield %s.%s: %w", reg, name, ErrNotFound)
		}
		if v > b.Max() {
			return &RangeError{Register: reg, BitField: name, Value: v, Max: b.Max()}
		}
	}

	_, err = s.modify(ctx, r, func(raw uint32) uint32 {
		for _, b := range r.BitFields {
			if v, ok := values[b.Name]; ok {
				raw = b.Insert(raw, v)
			}
		}
		return raw
	})
	s.rec.Record(oplog.Record{Kind: oplog.KindWriteBit, Register: reg, Value: fmt.Sprint(values), Err: err})
	return err
}

// ClearAllBitFields zeroes every bitfield of a register. Bits outside the
// fields keep their board value.
func (s *Session) ClearAllBitFields(ctx context.Context, reg string) error {
	r, err := s.Lookup(reg)
	if err != nil {
		return err
	}
	if !r.HasBitFields() {
		return fmt.Errorf("%s has no bitfields to clear: %w", reg, ErrConfiguration)
	}

	var mask uint32
	for _, b := range r.BitFields {
		mask |= b.Mask()
	}
	_, err = s.modify(ctx, r, func(raw uint32) uint32 { return raw &^ mask })
	s.rec.Record(oplog.Record{Kind: oplog.KindClear, Register: reg, Err: err})
	return err
}

// ParseTarget splits "register.bit" notation. bit is empty for a plain
// register name.
func ParseTarget(target string) (reg, bit string) {
	reg, bit, _ = strings.Cut(target, ".")
	return reg, bit
}

// Read reads a register or, with "register.bit" notation, a bitfield.
func (s *Session) Read(ctx context.Context, target string) (float64, error) {
	reg, bit := ParseTarget(target)
	if bit == "" {
		return s.ReadFloat(ctx, reg)
	}
	v, err := s.ReadBit(ctx, reg, bit)
	return float64(v), err
}

// Write writes a register or, with "register.bit" notation, a bitfield.
// Bitfield values must be non-negative integers.
func (s *Session) Write(ctx context.Context, target string, v float64) error {
	reg, bit := ParseTarget(target)
	if bit == "" {
		return s.WriteFloat(ctx, reg, v)
	}
	if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
		return fmt.Errorf("%s: bitfield value %v must be a non-negative integer: %w", target, v, ErrValueOutOfRange)
	}
	return s.WriteBit(ctx, reg, bit, uint32(v))
}
