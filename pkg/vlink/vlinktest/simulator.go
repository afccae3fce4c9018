// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vlinktest provides an in-memory axis controller board that speaks
// the vlink protocol, for tests and bench use without hardware.
package vlinktest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Fault is a reply corruption injected by the simulator.
type Fault int

const (
	FaultNone     Fault = iota
	FaultChecksum       // flip the checksum of the last reply frame
	FaultOpcode         // answer with a different opcode
	FaultClose          // close the stream instead of answering
)

// Simulator is an axis controller board model: a descriptor table and a RAM
// map keyed by register address.
type Simulator struct {
	mu       sync.Mutex
	items    []vlink.Descriptor
	mem      map[vlink.Address][]byte
	notReady bool
	faults   []Fault
	requests []vlink.Frame
}

// New creates an empty, ready simulator.
func New() *Simulator {
	return &Simulator{mem: make(map[vlink.Address][]byte)}
}

// NewDescriptor builds a descriptor for a register of type t at addr.
func NewDescriptor(name string, t vlink.WireType, addr vlink.Address) vlink.Descriptor {
	d := vlink.Descriptor{Name: name, Address: addr}
	d.LenTyp[0] = byte(t)
	return d
}

// AddRegister appends a descriptor and stores its initial raw value.
func (s *Simulator) AddRegister(name string, t vlink.WireType, addr vlink.Address, initial uint32) vlink.Descriptor {
	d := NewDescriptor(name, t, addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, d)
	s.mem[addr] = vlink.EncodeValue(t, initial)
	return d
}

// Set stores raw at addr using the register's width.
func (s *Simulator) Set(addr vlink.Address, raw uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	width := len(s.mem[addr])
	if width == 0 {
		width = 4
	}
	buf := make([]byte, width)
	for i := range buf {
		buf[i] = byte(raw >> (8 * i))
	}
	s.mem[addr] = buf
}

// Raw returns the value stored at addr.
func (s *Simulator) Raw(addr vlink.Address) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vlink.DecodeValue(s.mem[addr])
}

// SetReady controls the status reply.
func (s *Simulator) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = !ready
}

// Inject queues faults, consumed one per request in order.
func (s *Simulator) Inject(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Requests returns every request frame received so far.
func (s *Simulator) Requests() []vlink.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vlink.Frame, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests clears the request log.
func (s *Simulator) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Serve answers requests on rw until the stream closes.
func (s *Simulator) Serve(rw io.ReadWriter) error {
	var req vlink.Frame
	for {
		if _, err := io.ReadFull(rw, req[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		reply, fault := s.handle(req)
		if fault == FaultClose {
			if c, ok := rw.(io.Closer); ok {
				return c.Close()
			}
			return nil
		}
		if _, err := rw.Write(reply); err != nil {
			return err
		}
	}
}

// Pipe serves an in-memory connection and returns the client end with a
// function that closes it and waits for the server side to stop.
func (s *Simulator) Pipe() (net.Conn, func()) {
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(server)
		server.Close()
	}()
	return client, func() {
		client.Close()
		<-done
	}
}

// ListenAndServe accepts TCP connections on addr until ctx is cancelled.
func (s *Simulator) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			_ = s.Serve(conn)
		}()
	}
}

func (s *Simulator) handle(req vlink.Frame) ([]byte, Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	fault := FaultNone
	if len(s.faults) > 0 {
		fault = s.faults[0]
		s.faults = s.faults[1:]
	}

	op := req.Opcode()
	var payload []byte
	switch {
	case !vlink.SumZero(req[1:]):
		op = 0xFF
	case op == vlink.OpStatus:
		payload = []byte{0, 0}
		if s.notReady {
			payload[0] = 1
		}
	case op == vlink.OpItemCount:
		payload = []byte{0, byte(len(s.items))}
	case op == vlink.OpGetItem:
		idx := int(req[4])
		if idx < len(s.items) {
			payload = s.items[idx].Encode()
		} else {
			payload = make([]byte, vlink.DescriptorSize)
		}
	case op == vlink.OpWriteRAM:
		var addr vlink.Address
		copy(addr[:], req[2:5])
		n := max(int(req.Control())-4, 0)
		s.mem[addr] = append([]byte(nil), req[5:5+n]...)
	case op == vlink.OpReadRAM:
		var addr vlink.Address
		copy(addr[:], req[2:5])
		payload = make([]byte, int(req[5]))
		copy(payload, s.mem[addr])
	}

	switch fault {
	case FaultOpcode:
		return vlink.EncodeReply(op+0x10, payload), fault
	case FaultChecksum:
		reply := vlink.EncodeReply(op, payload)
		reply[len(reply)-1] ^= 0xFF
		return reply, fault
	}
	return vlink.EncodeReply(op, payload), fault
}
