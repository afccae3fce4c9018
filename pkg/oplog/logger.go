// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package oplog configures process logging and records register operations
// as structured events.
package oplog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides
const (
	EnvLevel   = "AXISCTL_LOG_LEVEL"
	EnvNoColor = "AXISCTL_LOG_NOCOLOR"
	EnvFile    = "AXISCTL_LOG_FILE"
)

// Options controls logger construction.
type Options struct {
	App     string
	Level   string
	NoColor bool
	Out     io.Writer // console destination, stderr when nil
	File    string    // optional plain JSON log file, appended
}

// OptionsFromEnv fills unset options from the environment.
func OptionsFromEnv(opts Options) Options {
	if opts.Level == "" {
		opts.Level = os.Getenv(EnvLevel)
	}
	if !opts.NoColor {
		v := strings.ToLower(os.Getenv(EnvNoColor))
		opts.NoColor = v == "1" || v == "true" || v == "yes"
	}
	if opts.File == "" {
		opts.File = os.Getenv(EnvFile)
	}
	return opts
}

// New builds a logger. The returned closer releases the log file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("oplog: %w", err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("oplog: %w", err)
		}
		w = zerolog.MultiLevelWriter(w, f)
		closer = f
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger(), closer, nil
}

var (
	once   sync.Once
	closer io.Closer = nopCloser{}
)

// Configure sets the process-wide logger once, applying environment
// overrides. Later calls return the logger configured first.
func Configure(opts Options) zerolog.Logger {
	once.Do(func() {
		logger, c, err := New(OptionsFromEnv(opts))
		if err != nil {
			logger, c, _ = New(Options{App: opts.App, Out: opts.Out})
			logger.Warn().Err(err).Msg("invalid log settings, using defaults")
		}
		closer = c
		log.Logger = logger
	})
	return log.Logger
}

// Close releases the log file opened by Configure.
func Close() error {
	return closer.Close()
}

// FileName returns the per-session log file name for t.
func FileName(t time.Time) string {
	return t.Format("20060102_150405") + "_log.txt"
}

// SessionFile returns the path of a new session log in dir.
func SessionFile(dir string, t time.Time) string {
	return filepath.Join(dir, FileName(t))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
