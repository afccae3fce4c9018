// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package axis reads and writes named registers of one axis controller
// board through its resolved catalog.
package axis

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Board is the protocol surface a session drives. *vlink.Board satisfies it.
type Board interface {
	Status(ctx context.Context) (bool, error)
	ItemCount(ctx context.Context) (int, error)
	ReadRAM(ctx context.Context, addr vlink.Address, size int) ([]byte, error)
	WriteRAM(ctx context.Context, addr vlink.Address, data []byte) error
}

// Session owns the link to one board and its catalog.
//
// Every exchange and every read-modify-write cycle runs under the session
// mutex, so concurrent callers sharing a Session never interleave. Other
// processes writing the same board are not excluded.
type Session struct {
	mu    sync.Mutex
	board Board
	cat   *catalog.Catalog

	cacheMu sync.Mutex
	cache   map[string]catalog.Register

	rec oplog.Recorder
	log zerolog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder sets where operation records go.
func WithRecorder(r oplog.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session over board using cat.
func NewSession(board Board, cat *catalog.Catalog, opts ...Option) *Session {
	s := &Session{
		board: board,
		cat:   cat,
		cache: make(map[string]catalog.Register),
		rec:   oplog.Discard,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the session's catalog.
func (s *Session) Catalog() *catalog.Catalog {
	return s.cat
}

// Lookup returns the named register, consulting the cache first.
func (s *Session) Lookup(name string) (catalog.Register, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if r, ok := s.cache[name]; ok && r.Name == name {
		return r.Clone(), nil
	}
	r, ok := s.cat.Lookup(name)
	if !ok || r.Name != name {
		return catalog.Register{}, fmt.Errorf("register %q: %w", name, ErrNotFound)
	}
	s.cache[name] = r
	return r.Clone(), nil
}

// Status reports whether the board is ready.
func (s *Session) Status(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready, err := s.board.Status(ctx)
	s.rec.Record(oplog.Record{Kind: oplog.KindStatus, Value: fmt.Sprint(ready), Err: err})
	return ready, err
}

// ItemCount returns the number of registers the board reports.
func (s *Session) ItemCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.ItemCount(ctx)
}

// readRaw and writeRaw must be called with s.mu held.
func (s *Session) readRaw(ctx context.Context, r catalog.Register) (uint32, error) {
	b, err := s.board.ReadRAM(ctx, r.Address, r.Width())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.Name, err)
	}
	return vlink.DecodeValue(b), nil
}

func (s *Session) writeRaw(ctx context.Context, r catalog.Register, raw uint32) error {
	if err := s.board.WriteRAM(ctx, r.Address, vlink.EncodeValue(r.Type(), raw)); err != nil {
		return fmt.Errorf("write %s: %w", r.Name, err)
	}
	return nil
}

// modify runs a read-modify-write cycle on r under the session mutex.
func (s *Session) modify(ctx context.Context, r catalog.Register, fn func(raw uint32) uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readRaw(ctx, r)
	if err != nil {
		return 0, err
	}
	next := fn(raw)
	if err := s.writeRaw(ctx, r, next); err != nil {
		return 0, err
	}
	return next, nil
}
