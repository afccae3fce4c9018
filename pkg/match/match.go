// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package match loads the static rules that map board register names to
// configuration store keys and bitfield layouts.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BitRule maps one bitfield of a register to a configuration key.
type BitRule struct {
	Name     string `json:"BitName" yaml:"BitName"`
	Field    string `json:"CI-Field" yaml:"CI-Field"`
	Key      string `json:"CI-Key" yaml:"CI-Key"`
	StartBit int    `json:"StartBit" yaml:"StartBit"`
	Size     int    `json:"Size" yaml:"Size"`
}

// Rule maps a register name to a configuration key and, for bitfield
// registers, a list of bit rules.
type Rule struct {
	Register  string    `json:"VLItemName" yaml:"VLItemName"`
	Field     string    `json:"CI-Field" yaml:"CI-Field"`
	Key       string    `json:"CI-Key" yaml:"CI-Key"`
	BitFields []BitRule `json:"BitItems,omitempty" yaml:"BitItems,omitempty"`
}

type document struct {
	Matches []Rule `json:"Matches" yaml:"Matches"`
}

// Rules is a validated rule set indexed by register name.
type Rules struct {
	list   []Rule
	byName map[string]int
}

// New indexes rules. Each rule is validated and register names must be
// unique, so lookups never depend on input order.
func New(rules []Rule) (*Rules, error) {
	rs := &Rules{
		list:   make([]Rule, 0, len(rules)),
		byName: make(map[string]int, len(rules)),
	}

	var errs []error
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := rs.byName[r.Register]; dup {
			errs = append(errs, fmt.Errorf("match: duplicate rule for %q", r.Register))
			continue
		}
		rs.byName[r.Register] = len(rs.list)
		rs.list = append(rs.list, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}

// Validate checks a single rule.
func (r Rule) Validate() error {
	if r.Register == "" {
		return errors.New("match: rule without register name")
	}

	seen := make(map[string]bool, len(r.BitFields))
	for _, b := range r.BitFields {
		switch {
		case b.Name == "":
			return fmt.Errorf("match: %s: bitfield without name", r.Register)
		case seen[b.Name]:
			return fmt.Errorf("match: %s: duplicate bitfield %q", r.Register, b.Name)
		case b.Size <= 0 || b.Size > 32:
			return fmt.Errorf("match: %s.%s: size %d out of range", r.Register, b.Name, b.Size)
		case b.StartBit < 0 || b.StartBit+b.Size > 32:
			return fmt.Errorf("match: %s.%s: start bit %d out of range", r.Register, b.Name, b.StartBit)
		}
		seen[b.Name] = true
	}
	return nil
}

// Find returns the rule for a register name.
func (rs *Rules) Find(name string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	i, ok := rs.byName[name]
	if !ok {
		return Rule{}, false
	}
	return rs.list[i], true
}

// Len returns the number of rules.
func (rs *Rules) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.list)
}

// All returns the rules in file order.
func (rs *Rules) All() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.list...)
}

// Load reads a rule file. .json files use the {"Matches": [...]} layout;
// .yaml and .yml files use the same keys.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("match: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("match: parse %s: %w", path, err)
	}
	return New(doc.Matches)
}
