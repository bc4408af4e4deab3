// Copyright 2025 The go-ledgerbridge Authors
// This file is part of the go-ledgerbridge library.
//
// The go-ledgerbridge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ledgerbridge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ledgerbridge library. If not, see <http://www.gnu.org/licenses/>.

package session

import (
	"context"
	"sync"
)

// MemoryLockFabric is an in-process lease fabric with the Locker semantics
// of the shared store: one holder per user across every Locker it hands
// out. Used in tests to exercise multi-node contention without etcd.
type MemoryLockFabric struct {
	mu   sync.Mutex
	held map[string]*memoryLock
}

// NewMemoryLockFabric creates an empty fabric.
func NewMemoryLockFabric() *MemoryLockFabric {
	return &MemoryLockFabric{held: make(map[string]*memoryLock)}
}

// NodeLocker returns a Locker bound to this fabric. All lockers contend for
// the same per-user leases.
func (f *MemoryLockFabric) NodeLocker() Locker {
	return &memoryLocker{fabric: f}
}

// Expire force-releases a user's lease and fires its Lost channel,
// simulating heartbeat loss.
func (f *MemoryLockFabric) Expire(userID string) {
	f.mu.Lock()
	lock, ok := f.held[userID]
	if ok {
		delete(f.held, userID)
	}
	f.mu.Unlock()
	if ok {
		lock.expire()
	}
}

type memoryLocker struct {
	fabric *MemoryLockFabric
}

func (l *memoryLocker) Acquire(_ context.Context, userID string) (Lock, error) {
	f := l.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.held[userID]; taken {
		return nil, ErrNotOwner
	}
	lock := &memoryLock{fabric: f, userID: userID, lost: make(chan struct{})}
	f.held[userID] = lock
	return lock, nil
}

type memoryLock struct {
	fabric *MemoryLockFabric
	userID string
	once   sync.Once
	lost   chan struct{}
}

func (l *memoryLock) Release(context.Context) error {
	f := l.fabric
	f.mu.Lock()
	if f.held[l.userID] == l {
		delete(f.held, l.userID)
	}
	f.mu.Unlock()
	return nil
}

func (l *memoryLock) Lost() <-chan struct{} { return l.lost }

func (l *memoryLock) expire() {
	l.once.Do(func() { close(l.lost) })
}
