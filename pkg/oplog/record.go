// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package oplog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an operation record.
type Kind string

const (
	KindStatus   Kind = "status"
	KindBuild    Kind = "build"
	KindMiss     Kind = "miss"
	KindWarning  Kind = "warning"
	KindRead     Kind = "read"
	KindWrite    Kind = "write"
	KindWriteBit Kind = "write_bit"
	KindClear    Kind = "clear"
	KindSetup    Kind = "setup"
	KindStop     Kind = "stop"
)

// Record is one register operation.
type Record struct {
	Time     time.Time
	Kind     Kind
	Register string
	BitField string
	Value    string
	Message  string
	Err      error
}

// Recorder receives operation records.
type Recorder interface {
	Record(r Record)
}

// Discard drops every record.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Record) {}

// ZerologRecorder writes records as structured log events.
type ZerologRecorder struct {
	log zerolog.Logger
}

// NewZerologRecorder returns a recorder writing to l.
func NewZerologRecorder(l zerolog.Logger) *ZerologRecorder {
	return &ZerologRecorder{log: l}
}

// Record implements Recorder.
func (z *ZerologRecorder) Record(r Record) {
	var ev *zerolog.Event
	switch {
	case r.Err != nil:
		ev = z.log.Error().Err(r.Err)
	case r.Kind == KindMiss || r.Kind == KindWarning:
		ev = z.log.Warn()
	case r.Kind == KindRead:
		ev = z.log.Debug()
	default:
		ev = z.log.Info()
	}

	ev = ev.Str("op", string(r.Kind))
	if r.Register != "" {
		ev = ev.Str("register", r.Register)
	}
	if r.BitField != "" {
		ev = ev.Str("bit", r.BitField)
	}
	if r.Value != "" {
		ev = ev.Str("value", r.Value)
	}
	if !r.Time.IsZero() {
		ev = ev.Time("at", r.Time)
	}
	msg := r.Message
	if msg == "" {
		msg = string(r.Kind)
	}
	ev.Msg(msg)
}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// Records returns a copy of everything recorded.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Kind returns the records of one kind.
func (m *MemoryRecorder) Kind(k Kind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}
