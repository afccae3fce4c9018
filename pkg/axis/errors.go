// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package axis

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/axisctl/pkg/catalog"
)

var (
	ErrNotFound        = errors.New("axis: not found")
	ErrTypeMismatch    = errors.New("axis: type mismatch")
	ErrValueOutOfRange = errors.New("axis: value out of range")
	ErrConfiguration   = errors.New("axis: configuration error")
)

// TypeMismatchError reports a typed access that does not match the
// register's wire type.
type TypeMismatchError struct {
	Register string
	Want     catalog.WireType
	Got      catalog.WireType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("axis: %s is %s, accessed as %s", e.Register, e.Got, e.Want)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// RangeError reports a value that does not fit a bitfield or register.
type RangeError struct {
	Register string
	BitField string
	Value    uint32
	Max      uint32
}

func (e *RangeError) Error() string {
	target := e.Register
	if e.BitField != "" {
		target += "." + e.BitField
	}
	return fmt.Sprintf("axis: value %d out of range for %s (max %d)", e.Value, target, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrValueOutOfRange }
