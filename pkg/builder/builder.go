// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package builder assembles a register catalog from what the board reports,
// the static match rules and the configuration store.
package builder

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/confstore"
	"github.com/Thermoquad/axisctl/pkg/match"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Board is the part of the board protocol a build needs. *vlink.Board
// satisfies it.
type Board interface {
	ItemCount(ctx context.Context) (int, error)
	Descriptor(ctx context.Context, index int) (vlink.Descriptor, error)
	ReadRAM(ctx context.Context, addr vlink.Address, size int) ([]byte, error)
}

// Miss records a register or bitfield whose configuration could not be
// resolved. Misses are not errors; the value stays unset.
type Miss struct {
	Index    int
	Register string
	BitField string
	Field    string
	Key      string
}

func (m Miss) String() string {
	target := m.Register
	if m.BitField != "" {
		target += "." + m.BitField
	}
	if m.Field == "" && m.Key == "" {
		return fmt.Sprintf("%s: no match rule", target)
	}
	return fmt.Sprintf("%s: no value for [%s] %s", target, m.Field, m.Key)
}

// Result is the outcome of a build.
type Result struct {
	Catalog     *catalog.Catalog
	Descriptors []vlink.Descriptor
	Misses      []Miss
	Warnings    []error
	Reused      bool // catalog loaded from disk, board not queried
}

// Builder merges board descriptors with rules and configuration values.
type Builder struct {
	Board    Board
	Rules    *match.Rules
	Store    confstore.Store
	Recorder oplog.Recorder
}

// Build queries the board for every descriptor and resolves each one.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	count, err := b.Board.ItemCount(ctx)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, count)
}

func (b *Builder) build(ctx context.Context, count int) (*Result, error) {
	rec := b.recorder()
	res := &Result{Descriptors: make([]vlink.Descriptor, 0, count)}
	regs := make([]catalog.Register, 0, count)

	for i := 0; i < count; i++ {
		d, err := b.Board.Descriptor(ctx, i)
		if err != nil {
			return nil, err
		}
		res.Descriptors = append(res.Descriptors, d)

		reg := catalog.FromDescriptor(i, d)
		if d.Type().Valid() {
			def, err := b.Board.ReadRAM(ctx, d.Address, d.Type().Width())
			if err != nil {
				return nil, err
			}
			reg.Default = def
		} else {
			res.Warnings = append(res.Warnings, fmt.Errorf("%s: unknown type code %d, default not read", d.Name, d.LenTyp[0]))
		}

		res.Misses = append(res.Misses, b.resolve(&reg)...)
		if err := reg.Validate(); err != nil {
			res.Warnings = append(res.Warnings, err)
		}
		regs = append(regs, reg)
	}

	cat, err := catalog.New(regs)
	if err != nil {
		return nil, err
	}
	res.Catalog = cat

	for _, m := range res.Misses {
		rec.Record(oplog.Record{Kind: oplog.KindMiss, Register: m.Register, BitField: m.BitField, Message: m.String()})
	}
	for _, w := range res.Warnings {
		rec.Record(oplog.Record{Kind: oplog.KindWarning, Message: w.Error()})
	}
	rec.Record(oplog.Record{
		Kind:    oplog.KindBuild,
		Value:   strconv.Itoa(cat.Len()),
		Message: fmt.Sprintf("built %d registers, %d unresolved", cat.Len(), len(res.Misses)),
	})
	return res, nil
}

// resolve fills the rule and configured values of reg. A register with bit
// rules takes values per bitfield and never a scalar value.
func (b *Builder) resolve(reg *catalog.Register) []Miss {
	rule, ok := b.Rules.Find(reg.Name)
	if !ok {
		return []Miss{{Index: reg.Index, Register: reg.Name}}
	}
	reg.Field = rule.Field
	reg.Key = rule.Key

	var misses []Miss
	if len(rule.BitFields) > 0 {
		reg.BitFields = make([]catalog.BitField, 0, len(rule.BitFields))
		for _, br := range rule.BitFields {
			bf := catalog.BitField{
				Name:     br.Name,
				Field:    br.Field,
				Key:      br.Key,
				StartBit: br.StartBit,
				Size:     br.Size,
			}
			if v, ok := b.lookup(br.Field, br.Key); ok {
				bf.Value = Coerce(v)
			} else {
				misses = append(misses, Miss{Index: reg.Index, Register: reg.Name, BitField: br.Name, Field: br.Field, Key: br.Key})
			}
			reg.BitFields = append(reg.BitFields, bf)
		}
		return misses
	}

	if v, ok := b.lookup(rule.Field, rule.Key); ok {
		reg.Value = Coerce(v)
	} else {
		misses = append(misses, Miss{Index: reg.Index, Register: reg.Name, Field: rule.Field, Key: rule.Key})
	}
	return misses
}

func (b *Builder) lookup(field, key string) (string, bool) {
	if b.Store == nil || (field == "" && key == "") {
		return "", false
	}
	return b.Store.Lookup(field, key)
}

func (b *Builder) recorder() oplog.Recorder {
	if b.Recorder == nil {
		return oplog.Discard
	}
	return b.Recorder
}

// Coerce converts a configuration string: "True" is 1, "False" is 0, then
// integer and decimal literals. Anything else is unset.
func Coerce(s string) catalog.Value {
	switch s {
	case "True":
		return catalog.Of(1)
	case "False":
		return catalog.Of(0)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return catalog.Of(float64(i))
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return catalog.Of(f)
	}
	return catalog.Unset()
}
