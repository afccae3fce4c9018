// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings loads axisctl.toml: the axes to control, where their
// working directories live and how the link to each board behaves.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the settings file looked up in the working directory.
const DefaultFile = "axisctl.toml"

// Axis is one controller board.
type Axis struct {
	Number int
	Host   string
	Port   int
}

// Address returns host:port.
func (a Axis) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Settings is the resolved configuration.
type Settings struct {
	WorkDir   string
	SharedDir string

	StoreFile   string
	MatchFile   string
	CatalogFile string
	BoardFile   string
	LogDir      string

	Retries         int
	ReadTimeout     time.Duration
	ConnectTimeout  time.Duration
	ConnectAttempts int

	Axes []Axis
}

// Default returns the settings used when no file is present.
func Default() Settings {
	return Settings{
		WorkDir:         ".",
		SharedDir:       "shared",
		StoreFile:       "Cl-Servos.ini",
		MatchFile:       "match.json",
		CatalogFile:     "vlItem.json",
		BoardFile:       "boardItems.cbor",
		Retries:         3,
		ReadTimeout:     2 * time.Second,
		ConnectTimeout:  5 * time.Second,
		ConnectAttempts: 5,
		Axes:            []Axis{{Number: 1, Host: "192.168.0.2", Port: 1000}},
	}
}

// axisctl.toml key mapping.
type fileConfig struct {
	WorkDir         string     `toml:"work_dir"`
	SharedDir       string     `toml:"shared_dir"`
	StoreFile       string     `toml:"store_file"`
	MatchFile       string     `toml:"match_file"`
	CatalogFile     string     `toml:"catalog_file"`
	BoardFile       string     `toml:"board_file"`
	LogDir          string     `toml:"log_dir"`
	Retries         int        `toml:"retries"`
	ReadTimeout     string     `toml:"read_timeout"`
	ConnectTimeout  string     `toml:"connect_timeout"`
	ConnectAttempts int        `toml:"connect_attempts"`
	Axes            []fileAxis `toml:"axis"`
}

type fileAxis struct {
	Number int    `toml:"number"`
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
}

// Load overlays the file at path on Default and validates the result.
func Load(path string) (Settings, error) {
	s := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("settings: unknown key %q in %s", undecoded[0].String(), path)
	}

	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	str("work_dir", raw.WorkDir, &s.WorkDir)
	str("shared_dir", raw.SharedDir, &s.SharedDir)
	str("store_file", raw.StoreFile, &s.StoreFile)
	str("match_file", raw.MatchFile, &s.MatchFile)
	str("catalog_file", raw.CatalogFile, &s.CatalogFile)
	str("board_file", raw.BoardFile, &s.BoardFile)
	str("log_dir", raw.LogDir, &s.LogDir)

	if meta.IsDefined("retries") {
		s.Retries = raw.Retries
	}
	if meta.IsDefined("connect_attempts") {
		s.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("read_timeout") {
		if s.ReadTimeout, err = time.ParseDuration(raw.ReadTimeout); err != nil {
			return Settings{}, fmt.Errorf("settings: read_timeout: %w", err)
		}
	}
	if meta.IsDefined("connect_timeout") {
		if s.ConnectTimeout, err = time.ParseDuration(raw.ConnectTimeout); err != nil {
			return Settings{}, fmt.Errorf("settings: connect_timeout: %w", err)
		}
	}

	if meta.IsDefined("axis") {
		s.Axes = s.Axes[:0:0]
		for _, a := range raw.Axes {
			s.Axes = append(s.Axes, Axis{Number: a.Number, Host: strings.TrimSpace(a.Host), Port: a.Port})
		}
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Normalize fills empty values with defaults.
func (s *Settings) Normalize() {
	def := Default()
	if s.WorkDir == "" {
		s.WorkDir = def.WorkDir
	}
	if s.SharedDir == "" {
		s.SharedDir = def.SharedDir
	}
	if s.StoreFile == "" {
		s.StoreFile = def.StoreFile
	}
	if s.MatchFile == "" {
		s.MatchFile = def.MatchFile
	}
	if s.CatalogFile == "" {
		s.CatalogFile = def.CatalogFile
	}
	if s.BoardFile == "" {
		s.BoardFile = def.BoardFile
	}
	for i := range s.Axes {
		if s.Axes[i].Host == "" {
			s.Axes[i].Host = def.Axes[0].Host
		}
		if s.Axes[i].Port == 0 {
			s.Axes[i].Port = def.Axes[0].Port
		}
	}
}

// Validate reports every invalid value.
func (s Settings) Validate() error {
	var errs []error
	if s.Retries < 1 {
		errs = append(errs, fmt.Errorf("settings: retries must be at least 1, got %d", s.Retries))
	}
	if s.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("settings: connect_attempts must be at least 1, got %d", s.ConnectAttempts))
	}
	if s.ReadTimeout < 0 || s.ConnectTimeout < 0 {
		errs = append(errs, errors.New("settings: timeouts must not be negative"))
	}
	if len(s.Axes) == 0 {
		errs = append(errs, errors.New("settings: at least one [[axis]] is required"))
	}

	seen := make(map[int]bool, len(s.Axes))
	for _, a := range s.Axes {
		if a.Number < 1 {
			errs = append(errs, fmt.Errorf("settings: axis number must be positive, got %d", a.Number))
		}
		if seen[a.Number] {
			errs = append(errs, fmt.Errorf("settings: axis %d defined twice", a.Number))
		}
		seen[a.Number] = true
		if a.Port < 1 || a.Port > 65535 {
			errs = append(errs, fmt.Errorf("settings: axis %d port %d out of range", a.Number, a.Port))
		}
	}
	return errors.Join(errs...)
}

// Axis returns the axis with the given number.
func (s Settings) Axis(n int) (Axis, bool) {
	for _, a := range s.Axes {
		if a.Number == n {
			return a, true
		}
	}
	return Axis{}, false
}

// AxisDir returns the working directory of axis n.
func (s Settings) AxisDir(n int) string {
	return filepath.Join(s.WorkDir, fmt.Sprintf("axle_%d", n))
}

// SharedPath returns the shared configuration directory.
func (s Settings) SharedPath() string {
	if filepath.IsAbs(s.SharedDir) {
		return s.SharedDir
	}
	return filepath.Join(s.WorkDir, s.SharedDir)
}
