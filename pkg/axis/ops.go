// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package axis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// DefaultPollInterval is the WaitBit polling period when none is given.
const DefaultPollInterval = 100 * time.Millisecond

type setupWrite struct {
	reg    catalog.Register
	raw    uint32 // scalar registers
	fields []catalog.BitField
	values []uint32
}

// Setup pushes every configured value to the board. Bitfield registers get
// one read-modify-write covering only their configured fields; plain
// registers with a value are written directly; registers without a value
// keep the board default. All values are checked before the first write.
// It returns the number of registers written.
func (s *Session) Setup(ctx context.Context) (int, error) {
	var plan []setupWrite
	var errs []error

	for _, r := range s.cat.Registers() {
		if r.HasBitFields() {
			w := setupWrite{reg: r}
			for _, b := range r.BitFields {
				v, ok := b.Value.Get()
				if !ok {
					continue
				}
				if v < 0 || v != math.Trunc(v) || v > float64(b.Max()) {
					errs = append(errs, fmt.Errorf("%s.%s: configured value %v does not fit %d bits: %w",
						r.Name, b.Name, v, b.Size, ErrValueOutOfRange))
					continue
				}
				w.fields = append(w.fields, b)
				w.values = append(w.values, uint32(v))
			}
			if len(w.fields) == 0 {
				continue
			}
			if err := checkLayout(r); err != nil {
				errs = append(errs, err)
				continue
			}
			plan = append(plan, w)
			continue
		}

		v, ok := r.Value.Get()
		if !ok {
			continue
		}
		raw, err := vlink.FromFloat(r.Type(), v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %v: %w", r.Name, err, ErrValueOutOfRange))
			continue
		}
		plan = append(plan, setupWrite{reg: r, raw: raw})
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	written := 0
	for _, w := range plan {
		var err error
		if w.fields != nil {
			_, err = s.modify(ctx, w.reg, func(raw uint32) uint32 {
				for i, b := range w.fields {
					raw = b.Insert(raw, w.values[i])
				}
				return raw
			})
		} else {
			s.mu.Lock()
			err = s.writeRaw(ctx, w.reg, w.raw)
			s.mu.Unlock()
		}
		s.rec.Record(oplog.Record{Kind: oplog.KindSetup, Register: w.reg.Name, Err: err})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// WaitBit polls reg.bit every interval until it equals want or ctx is done.
func (s *Session) WaitBit(ctx context.Context, reg, bit string, want uint32, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if _, _, err := s.bitField(reg, bit); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := s.ReadBit(ctx, reg, bit)
		if err != nil {
			return err
		}
		if v == want {
			return nil
		}
		s.log.Debug().Str("register", reg).Str("bit", bit).Uint32("value", v).Uint32("want", want).Msg("waiting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DefaultSafeStop halts axis 2 motion and resets system identification.
var DefaultSafeStop = []Step{
	{Write: "vel_targ_2", Value: 0},
	{Write: "state_2.run", Value: 0},
	{Write: "sysid_control.resetBit", Value: 1},
}

// SafeStop runs every stop step even when earlier ones fail, and returns
// the joined errors. nil steps means DefaultSafeStop.
func (s *Session) SafeStop(ctx context.Context, steps []Step) error {
	if steps == nil {
		steps = DefaultSafeStop
	}

	var errs []error
	for _, st := range steps {
		if err := s.runStep(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	s.rec.Record(oplog.Record{Kind: oplog.KindStop, Value: strconv.Itoa(len(steps)), Err: err})
	return err
}

// Angle converts encoder counts to degrees. The upper two bits are
// turn-count flags and are ignored.
func Angle(counts int32) float64 {
	return float64(uint32(counts)&0x3FFFFFFF) * 360 / (1 << 30)
}
