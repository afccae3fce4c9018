// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package builder

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DirLocks serialises access to shared directories, one lock per path.
type DirLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// SharedLocks guards the shared configuration directory across every
// session in the process.
var SharedLocks = NewDirLocks()

// NewDirLocks creates an empty lock set.
func NewDirLocks() *DirLocks {
	return &DirLocks{sems: make(map[string]*semaphore.Weighted)}
}

// Lock blocks until dir is free or ctx is done. The returned function
// releases the lock.
func (l *DirLocks) Lock(ctx context.Context, dir string) (func(), error) {
	sem := l.get(dir)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (l *DirLocks) get(dir string) *semaphore.Weighted {
	key := filepath.Clean(dir)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	return sem
}
