// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Counters is a point-in-time view of channel statistics.
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	Exchanges        uint64
	Succeeded        uint64
	Attempts         uint64
	ChecksumErrors   uint64
	OpcodeMismatches uint64
	TransientErrors  uint64
	Exhausted        uint64
	ConnectionLosses uint64
	BytesSent        uint64
	BytesReceived    uint64
	BytesDiscarded   uint64

	// Rates (calculated)
	ExchangeRate float64 // exchanges/sec
	ErrorRate    float64 // failed attempts/sec
}

// Statistics tracks exchange counters and error rates for a channel.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

func (s *Statistics) recordAttempt(sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
	s.BytesSent += uint64(sent)
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) recordReceived(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesReceived += uint64(n)
}

func (s *Statistics) recordDiscarded(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesDiscarded += uint64(n)
}

func (s *Statistics) recordResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastUpdateTime = time.Now()
	switch {
	case err == nil:
		s.Exchanges++
		s.Succeeded++
	case errors.Is(err, ErrConnection):
		s.Exchanges++
		s.ConnectionLosses++
	case errors.Is(err, ErrCommunication):
		s.Exchanges++
		s.Exhausted++
	case errors.Is(err, ErrChecksum):
		s.ChecksumErrors++
	case errors.Is(err, ErrProtocolMismatch):
		s.OpcodeMismatches++
	default:
		s.TransientErrors++
	}
}

// Snapshot returns a copy of the counters with rates calculated.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calculateRates()
	return s.Counters
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ExchangeRate = float64(s.Exchanges) / elapsed
		failed := s.ChecksumErrors + s.OpcodeMismatches + s.TransientErrors
		s.ErrorRate = float64(failed) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var okPercent float64
	if snap.Exchanges > 0 {
		okPercent = float64(snap.Succeeded) * 100.0 / float64(snap.Exchanges)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(snap.StartTime).Seconds())
	fmt.Fprintf(&b, "Exchanges:       %8d\n", snap.Exchanges)
	fmt.Fprintf(&b, "Succeeded:       %8d (%.1f%%)\n", snap.Succeeded, okPercent)
	fmt.Fprintf(&b, "Attempts:        %8d\n", snap.Attempts)
	if snap.ChecksumErrors > 0 {
		fmt.Fprintf(&b, "Checksum Errors: %8d\n", snap.ChecksumErrors)
	}
	if snap.OpcodeMismatches > 0 {
		fmt.Fprintf(&b, "Opcode Mismatch: %8d\n", snap.OpcodeMismatches)
	}
	if snap.TransientErrors > 0 {
		fmt.Fprintf(&b, "Transient:       %8d\n", snap.TransientErrors)
	}
	if snap.Exhausted > 0 {
		fmt.Fprintf(&b, "Retries Spent:   %8d\n", snap.Exhausted)
	}
	if snap.ConnectionLosses > 0 {
		fmt.Fprintf(&b, "Connection Lost: %8d\n", snap.ConnectionLosses)
	}
	fmt.Fprintf(&b, "Bytes TX/RX:     %8d / %d\n", snap.BytesSent, snap.BytesReceived)
	if snap.BytesDiscarded > 0 {
		fmt.Fprintf(&b, "Bytes Discarded: %8d\n", snap.BytesDiscarded)
	}
	fmt.Fprintf(&b, "Exchange Rate:   %8.1f /sec\n", snap.ExchangeRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f /sec\n", snap.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.Counters = Counters{StartTime: now, LastUpdateTime: now}
}
