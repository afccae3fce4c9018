// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package axis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Step is one scripted operation. Exactly one of Write, Clear and Wait is
// set. Write and Wait take "register" or "register.bit" targets.
type Step struct {
	Write    string        `yaml:"write,omitempty"`
	Clear    string        `yaml:"clear,omitempty"`
	Wait     string        `yaml:"wait,omitempty"`
	Value    float64       `yaml:"value,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

func (st Step) String() string {
	switch {
	case st.Write != "":
		return fmt.Sprintf("write %s=%v", st.Write, st.Value)
	case st.Clear != "":
		return "clear " + st.Clear
	case st.Wait != "":
		return fmt.Sprintf("wait %s==%v", st.Wait, st.Value)
	}
	return "empty step"
}

// Validate checks that the step names exactly one operation.
func (st Step) Validate() error {
	n := 0
	for _, s := range []string{st.Write, st.Clear, st.Wait} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("step must set exactly one of write, clear, wait (got %d)", n)
	}
	if st.Wait != "" {
		if _, bit := ParseTarget(st.Wait); bit == "" {
			return fmt.Errorf("wait target %q must be register.bit", st.Wait)
		}
		if st.Value < 0 || st.Value != float64(uint32(st.Value)) {
			return fmt.Errorf("wait value %v must be a non-negative integer", st.Value)
		}
	}
	return nil
}

// Script is an ordered list of steps, typically a board initialisation.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("script: no steps")
	}
	for i, st := range sc.Steps {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("script: step %d: %w", i+1, err)
		}
	}
	return &sc, nil
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return ParseScript(data)
}

// Run executes the steps in order and stops at the first failure.
func (s *Session) Run(ctx context.Context, sc *Script) error {
	for i, st := range sc.Steps {
		if err := s.runStep(ctx, st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st, err)
		}
	}
	return nil
}

func (s *Session) runStep(ctx context.Context, st Step) error {
	switch {
	case st.Write != "":
		return s.Write(ctx, st.Write, st.Value)
	case st.Clear != "":
		return s.ClearAllBitFields(ctx, st.Clear)
	case st.Wait != "":
		if st.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, st.Timeout)
			defer cancel()
		}
		reg, bit := ParseTarget(st.Wait)
		return s.WaitBit(ctx, reg, bit, uint32(st.Value), st.Interval)
	}
	return st.Validate()
}
