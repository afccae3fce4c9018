// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package confstore loads the servo configuration store: a two level
// field/key map of string values, read from .ini or .toml files.
package confstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"
)

// Store resolves a configuration value by field and key.
type Store interface {
	Lookup(field, key string) (string, bool)
}

// Map is an in-memory Store.
type Map map[string]map[string]string

// Lookup implements Store.
func (m Map) Lookup(field, key string) (string, bool) {
	sec, ok := m[field]
	if !ok {
		return "", false
	}
	v, ok := sec[key]
	return v, ok
}

// Set stores a value, creating the field as needed.
func (m Map) Set(field, key, value string) {
	sec, ok := m[field]
	if !ok {
		sec = make(map[string]string)
		m[field] = sec
	}
	sec[key] = value
}

// Fields returns the field names in sorted order.
func (m Map) Fields() []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of values.
func (m Map) Len() int {
	n := 0
	for _, sec := range m {
		n += len(sec)
	}
	return n
}

// Load reads a store from path, choosing the parser by extension.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("confstore: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini":
		return ParseINI(data)
	case ".toml":
		return ParseTOML(data)
	}
	return nil, fmt.Errorf("confstore: unsupported file type %q", filepath.Ext(path))
}

// ParseINI parses an .ini document. Sections become fields; keys of the
// unnamed default section are kept under "DEFAULT".
func ParseINI(data []byte) (Map, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("confstore: parse ini: %w", err)
	}

	m := make(Map)
	for _, sec := range cfg.Sections() {
		for _, key := range sec.Keys() {
			m.Set(sec.Name(), key.Name(), key.String())
		}
	}
	return m, nil
}

// ParseTOML parses a .toml document of tables. Booleans are stored as
// "True"/"False" to match the .ini convention.
func ParseTOML(data []byte) (Map, error) {
	var raw map[string]any
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("confstore: parse toml: %w", err)
	}

	m := make(Map)
	for field, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("confstore: top-level key %q is not a table", field)
		}
		for key, val := range table {
			s, err := scalarString(val)
			if err != nil {
				return nil, fmt.Errorf("confstore: %s.%s: %w", field, key, err)
			}
			m.Set(field, key, s)
		}
	}
	return m, nil
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}
