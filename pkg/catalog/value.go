// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value is an optional configured value. The zero Value is unset.
type Value struct {
	set bool
	v   float64
}

// Unset returns an empty Value.
func Unset() Value {
	return Value{}
}

// Of returns a set Value.
func Of(v float64) Value {
	return Value{set: true, v: v}
}

// Get returns the value and whether it is set.
func (v Value) Get() (float64, bool) {
	return v.v, v.set
}

// IsSet reports whether a value is present.
func (v Value) IsSet() bool {
	return v.set
}

func (v Value) String() string {
	if !v.set {
		return "unset"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

func (v Value) ptr() *float64 {
	if !v.set {
		return nil
	}
	x := v.v
	return &x
}

func valueOf(p *float64) Value {
	if p == nil {
		return Unset()
	}
	return Of(*p)
}

// MarshalJSON encodes an unset value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ptr())
}

// UnmarshalJSON decodes null as unset.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Unset()
		return nil
	}
	var x float64
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	*v = Of(x)
	return nil
}
