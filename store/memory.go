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

package store

import (
	"context"
	"sync"

	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// MemoryLedger is an in-process Ledger with the same versioning semantics
// as the real store. Used in tests and by local tooling; not durable.
type MemoryLedger struct {
	mu       sync.Mutex
	revision int64
	entries  map[string]memoryEntry
}

type memoryEntry struct {
	profile *wallet.Profile
	version int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]memoryEntry)}
}

// ReadProfile implements Ledger.
func (m *MemoryLedger) ReadProfile(_ context.Context, userID string) (*wallet.Profile, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		return nil, 0, nil
	}
	return entry.profile.Copy(), entry.version, nil
}

// WriteProfile implements Ledger.
func (m *MemoryLedger) WriteProfile(_ context.Context, userID string, profile *wallet.Profile, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	switch {
	case !ok && version != 0:
		return 0, ErrVersionConflict
	case ok && entry.version != version:
		return 0, ErrVersionConflict
	}
	m.revision++
	m.entries[userID] = memoryEntry{profile: profile.Copy(), version: m.revision}
	return m.revision, nil
}
