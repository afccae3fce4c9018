// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand   = errors.New("vlink: invalid command")
	ErrConnection       = errors.New("vlink: connection lost")
	ErrChecksum         = errors.New("vlink: checksum mismatch")
	ErrProtocolMismatch = errors.New("vlink: reply opcode mismatch")
	ErrShortReply       = errors.New("vlink: short reply")
	ErrCommunication    = errors.New("vlink: communication failed")

	// ErrStreamClosed may be returned by stream adapters whose transport
	// has no EOF of its own.
	ErrStreamClosed = errors.New("vlink: stream closed")
)

// ConnectionError reports a closed or failed stream. It is never retried.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("vlink: connection lost during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ChecksumError reports a reply frame that does not sum to zero.
type ChecksumError struct {
	Frame int  // index of the failing 16-byte chunk
	Sum   byte // residual sum of that chunk
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("vlink: checksum mismatch in reply frame %d (sum 0x%02X)", e.Frame, e.Sum)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksum }

// MismatchError reports a reply whose opcode differs from the request.
type MismatchError struct {
	Got  byte
	Want byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("vlink: reply opcode mismatch: got=%d want=%d", e.Got, e.Want)
}

func (e *MismatchError) Is(target error) bool { return target == ErrProtocolMismatch }

// ShortReplyError reports a reply buffer smaller than its framing requires.
type ShortReplyError struct {
	Got  int
	Want int
}

func (e *ShortReplyError) Error() string {
	return fmt.Sprintf("vlink: short reply: got %d bytes, want %d", e.Got, e.Want)
}

func (e *ShortReplyError) Is(target error) bool { return target == ErrShortReply }

// CommunicationError is returned once an exchange has used up its attempts.
type CommunicationError struct {
	Attempts int
	Last     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("vlink: communication failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *CommunicationError) Unwrap() error { return e.Last }

func (e *CommunicationError) Is(target error) bool { return target == ErrCommunication }

// IsFatal reports whether err ends the session: a lost connection or an
// exchange that exhausted its retries.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrCommunication)
}
