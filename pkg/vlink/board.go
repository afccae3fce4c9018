// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vlink

import (
	"context"
	"fmt"
)

// Board issues the protocol's typed requests over a Channel.
type Board struct {
	ch *Channel
}

// NewBoard wraps a channel.
func NewBoard(ch *Channel) *Board {
	return &Board{ch: ch}
}

// Channel returns the underlying channel.
func (b *Board) Channel() *Channel {
	return b.ch
}

// Status reports whether the board is ready: the first reply byte is zero.
func (b *Board) Status(ctx context.Context) (bool, error) {
	reply, err := b.ch.Exchange(ctx, StatusRequest(), StatusReplySize)
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return reply[0] == 0, nil
}

// ItemCount returns the number of register descriptors the board reports.
func (b *Board) ItemCount(ctx context.Context) (int, error) {
	reply, err := b.ch.Exchange(ctx, ItemCountRequest(), ItemCountReplySize)
	if err != nil {
		return 0, fmt.Errorf("item count: %w", err)
	}
	return int(reply[1]), nil
}

// Descriptor fetches the descriptor at index.
func (b *Board) Descriptor(ctx context.Context, index int) (Descriptor, error) {
	if index < 0 || index > 0xFF {
		return Descriptor{}, fmt.Errorf("get item: index %d out of range", index)
	}
	reply, err := b.ch.Exchange(ctx, ItemRequest(uint8(index)), DescriptorSize)
	if err != nil {
		return Descriptor{}, fmt.Errorf("get item %d: %w", index, err)
	}
	d, err := ParseDescriptor(reply)
	if err != nil {
		return Descriptor{}, fmt.Errorf("get item %d: %w", index, err)
	}
	return d, nil
}

// ReadRAM reads size bytes at addr.
func (b *Board) ReadRAM(ctx context.Context, addr Address, size int) ([]byte, error) {
	req, err := ReadRAMRequest(addr, size)
	if err != nil {
		return nil, err
	}
	reply, err := b.ch.Exchange(ctx, req, size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", addr, err)
	}
	return reply, nil
}

// WriteRAM writes data at addr.
func (b *Board) WriteRAM(ctx context.Context, addr Address, data []byte) error {
	req, err := WriteRAMRequest(addr, data)
	if err != nil {
		return err
	}
	if _, err := b.ch.Exchange(ctx, req, WriteReplySize); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	return nil
}
