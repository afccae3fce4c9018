// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Channel drives request/reply exchanges over a single byte stream.
//
// The protocol is strictly synchronous; a Channel must not be used by more
// than one goroutine at a time.
type Channel struct {
	rw          io.ReadWriter
	retries     int
	readTimeout time.Duration
	drainWindow time.Duration
	log         zerolog.Logger
	trace       io.Writer
	stats       *Statistics
}

// Option configures a Channel.
type Option func(*Channel)

// WithRetries sets the number of attempts per exchange.
func WithRetries(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithLogger sets the logger used for attempt failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithTrace writes a hex dump of every frame sent and received to w.
func WithTrace(w io.Writer) Option {
	return func(c *Channel) { c.trace = w }
}

// WithReadTimeout bounds every read on streams that support deadlines.
// Zero (the default) waits indefinitely.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Channel) { c.readTimeout = d }
}

// WithDrainWindow sets how long leftover reply bytes are discarded before a
// retry.
func WithDrainWindow(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.drainWindow = d
		}
	}
}

// WithStatistics shares a statistics tracker between channels.
func WithStatistics(s *Statistics) Option {
	return func(c *Channel) {
		if s != nil {
			c.stats = s
		}
	}
}

// NewChannel wraps a byte stream.
func NewChannel(rw io.ReadWriter, opts ...Option) *Channel {
	c := &Channel{
		rw:      rw,
		retries:     DefaultRetries,
		drainWindow: DefaultDrainWindow,
		log:         zerolog.Nop(),
		stats:       NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the channel statistics.
func (c *Channel) Stats() *Statistics {
	return c.stats
}

// Exchange sends req and returns the compacted reply payload of expected bytes.
//
// Checksum failures, opcode mismatches and transient send/receive errors are
// retried; after the last attempt a *CommunicationError wrapping the final
// cause is returned. A closed stream returns a *ConnectionError immediately.
//
// Before each retry the bytes still pending on the stream are discarded, so
// a late reply to a failed attempt never answers a later request. A read
// timeout on a stream without read deadlines cannot be drained and is
// reported as a *ConnectionError.
func (c *Channel) Exchange(ctx context.Context, req Frame, expected int) ([]byte, error) {
	var last error

	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := c.attempt(req, expected)
		if err == nil {
			c.stats.recordResult(nil)
			return payload, nil
		}

		if errors.Is(err, ErrConnection) {
			c.stats.recordResult(err)
			c.log.Error().Err(err).Uint8("opcode", req.Opcode()).Msg("connection lost")
			return nil, err
		}

		if errors.Is(err, os.ErrDeadlineExceeded) && !c.canDrain() {
			err = &ConnectionError{Op: "receive", Err: err}
			c.stats.recordResult(err)
			c.log.Error().Err(err).Uint8("opcode", req.Opcode()).Msg("reply timed out, stream cannot resynchronise")
			return nil, err
		}

		c.stats.recordResult(err)
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("of", c.retries).
			Uint8("opcode", req.Opcode()).
			Msg("exchange attempt failed")
		last = err

		if attempt < c.retries {
			c.drain()
		}
	}

	err := &CommunicationError{Attempts: c.retries, Last: last}
	c.stats.recordResult(err)
	return nil, err
}

func (c *Channel) attempt(req Frame, expected int) ([]byte, error) {
	sent, err := c.send(req[:])
	c.stats.recordAttempt(sent)
	if err != nil {
		return nil, err
	}
	if c.trace != nil {
		fmt.Fprint(c.trace, FormatFrame("TX", req))
	}

	raw, err := c.receive(PhysicalLength(expected))
	if err != nil {
		return nil, err
	}
	if c.trace != nil {
		fmt.Fprint(c.trace, FormatReply("RX", raw))
	}

	payload, err := ValidateAndCompact(raw, expected)
	if err != nil {
		return nil, err
	}
	if op := ReplyOpcode(raw); op != req.Opcode() {
		return nil, &MismatchError{Got: op, Want: req.Opcode()}
	}
	return payload, nil
}

// send writes the whole frame. Only bytes actually accepted by the stream
// count towards the total; any write error fails the attempt.
func (c *Channel) send(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := c.rw.Write(data[total:])
		if err != nil {
			return total, fmt.Errorf("send: %w", err)
		}
		if n <= 0 {
			return total, fmt.Errorf("send: %w", io.ErrShortWrite)
		}
		total += n
	}
	return total, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (c *Channel) canDrain() bool {
	_, ok := c.rw.(readDeadliner)
	return ok
}

// drain reads and discards whatever arrives within the drain window. Streams
// without read deadlines cannot be drained without blocking and are skipped.
func (c *Channel) drain() {
	d, ok := c.rw.(readDeadliner)
	if !ok {
		return
	}
	defer d.SetReadDeadline(time.Time{})

	if err := d.SetReadDeadline(time.Now().Add(c.drainWindow)); err != nil {
		return
	}
	buf := make([]byte, FrameSize*8)
	total := 0
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			total += n
			c.stats.recordDiscarded(n)
		}
		if err != nil || n == 0 {
			break
		}
	}
	if total > 0 {
		c.log.Debug().Int("bytes", total).Msg("discarded stale reply bytes")
	}
}

// receive reads exactly total bytes. A zero-length read or EOF means the peer
// closed the stream.
func (c *Channel) receive(total int) ([]byte, error) {
	buf := make([]byte, total)
	got := 0

	for got < total {
		if c.readTimeout > 0 {
			if d, ok := c.rw.(readDeadliner); ok {
				_ = d.SetReadDeadline(time.Now().Add(c.readTimeout))
			}
		}

		n, err := c.rw.Read(buf[got:])
		if n > 0 {
			got += n
			c.stats.recordReceived(n)
		}

		switch {
		case got >= total:
		case err != nil && closedStream(err):
			return nil, &ConnectionError{Op: "receive", Err: err}
		case err != nil:
			return nil, fmt.Errorf("receive: %w", err)
		case n == 0:
			return nil, &ConnectionError{Op: "receive", Err: io.ErrUnexpectedEOF}
		}
	}
	return buf, nil
}

func closedStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrStreamClosed)
}
