// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package axis

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const initScript = `
name: sysid-init
steps:
  - clear: sysid_control
  - write: sysid_length
    value: 512
  - write: vel_targ_2
    value: 0.01
  - write: sysid_control.startBit
    value: 1
  - wait: sysid_status.done
    value: 1
    interval: 5ms
    timeout: 1s
`

// ============================================================
// Parse Tests
// ============================================================

func TestParseScript(t *testing.T) {
	sc, err := ParseScript([]byte(initScript))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Name != "sysid-init" || len(sc.Steps) != 5 {
		t.Fatalf("unexpected script %+v", sc)
	}
	wait := sc.Steps[4]
	if wait.Interval != 5*time.Millisecond || wait.Timeout != time.Second {
		t.Errorf("durations not decoded: %+v", wait)
	}
	if got := sc.Steps[1].String(); got != "write sysid_length=512" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseScript_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		script string
		errMsg string
	}{
		{"no steps", "name: empty\n", "no steps"},
		{"two operations", "steps:\n  - write: a\n    clear: b\n", "exactly one"},
		{"no operation", "steps:\n  - value: 1\n", "exactly one"},
		{"wait on plain register", "steps:\n  - wait: sysid_status\n    value: 1\n", "register.bit"},
		{"wait for fraction", "steps:\n  - wait: sysid_status.done\n    value: 0.5\n", "non-negative integer"},
		{"wait for negative", "steps:\n  - wait: sysid_status.done\n    value: -1\n", "non-negative integer"},
		{"bad yaml", "steps: [", "script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.script))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not mention %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.yaml")
	if err := os.WriteFile(path, []byte(initScript), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScript(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sc.Steps) != 5 {
		t.Errorf("expected 5 steps, got %d", len(sc.Steps))
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ============================================================
// Run Tests
// ============================================================

func TestRunScript(t *testing.T) {
	f := newFixture(t)
	ctl := f.addr(t, "sysid_control")
	f.sim.Set(ctl, 0x0002)
	f.sim.Set(f.addr(t, "sysid_status"), 1)

	sc, err := ParseScript([]byte(initScript))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sess.Run(context.Background(), sc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if raw := f.sim.Raw(ctl); raw != 0x0001 {
		t.Errorf("sysid_control 0x%04X, want 0x0001", raw)
	}
	if raw := f.sim.Raw(f.addr(t, "sysid_length")); raw != 512 {
		t.Errorf("sysid_length = %d", raw)
	}
	if raw := f.sim.Raw(f.addr(t, "vel_targ_2")); raw != math.Float32bits(0.01) {
		t.Errorf("vel_targ_2 raw 0x%08X", raw)
	}
}

func TestRunScript_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	sc := &Script{Steps: []Step{
		{Write: "vel_targ_2", Value: 0.5},
		{Write: "state_2", Value: 1},
		{Write: "polnr_2", Value: 9},
	}}

	err := f.sess.Run(context.Background(), sc)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if !strings.Contains(err.Error(), "step 2") {
		t.Errorf("error should name the failing step: %v", err)
	}
	if raw := f.sim.Raw(f.addr(t, "polnr_2")); raw != 4 {
		t.Error("steps after the failure must not run")
	}
}

func TestRunScript_WaitTimeout(t *testing.T) {
	f := newFixture(t)
	sc := &Script{Steps: []Step{
		{Wait: "sysid_status.done", Value: 1, Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond},
	}}

	err := f.sess.Run(context.Background(), sc)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
