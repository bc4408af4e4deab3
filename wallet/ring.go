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

package wallet

import (
	"fmt"
)

// RingCapacity is the number of processed records retained per user. A
// replay arriving after its txnId has been evicted is re-applied; operators
// size the ring against the expected replay window.
const RingCapacity = 64

// Ring is a bounded FIFO map of recently processed transaction records with
// O(1) lookup by txnId. The oldest insertion is evicted when full.
//
// Ring is not safe for concurrent use. Callers hold the user session's
// exclusive lock.
type Ring struct {
	slots  []Record
	index  map[string]int // txnId -> slot
	cursor int            // next slot to write
	count  int
}

// NewRing creates a ring with the given capacity, seeded with records in
// oldest-to-newest order. Seeding more records than the capacity keeps the
// newest ones.
func NewRing(capacity int, seed []Record) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("wallet: ring capacity must be positive, got %d", capacity)
	}
	r := &Ring{
		slots: make([]Record, capacity),
		index: make(map[string]int, capacity),
	}
	for _, rec := range seed {
		r.Record(rec)
	}
	return r, nil
}

// Record inserts rec unless its txnId is already present. It returns whether
// the record was inserted and the stored record: the candidate on insertion,
// the original on a duplicate.
func (r *Ring) Record(rec Record) (inserted bool, stored Record) {
	if i, ok := r.index[rec.TxnID]; ok {
		return false, r.slots[i]
	}
	if r.count == len(r.slots) {
		delete(r.index, r.slots[r.cursor].TxnID)
		r.count--
	}
	r.slots[r.cursor] = rec
	r.index[rec.TxnID] = r.cursor
	r.cursor = (r.cursor + 1) % len(r.slots)
	r.count++
	return true, rec
}

// Get returns the record for txnID, if still resident.
func (r *Ring) Get(txnID string) (Record, bool) {
	i, ok := r.index[txnID]
	if !ok {
		return Record{}, false
	}
	return r.slots[i], true
}

// Len returns the number of resident records.
func (r *Ring) Len() int {
	return r.count
}

// NewestFirst returns the resident records in reverse insertion order.
func (r *Ring) NewestFirst() []Record {
	out := make([]Record, 0, r.count)
	for i := 0; i < r.count; i++ {
		slot := (r.cursor - 1 - i + len(r.slots)*2) % len(r.slots)
		out = append(out, r.slots[slot])
	}
	return out
}

// OldestFirst returns the resident records in insertion order, the layout
// persisted in Profile.Processed.
func (r *Ring) OldestFirst() []Record {
	out := make([]Record, 0, r.count)
	for i := r.count - 1; i >= 0; i-- {
		slot := (r.cursor - 1 - i + len(r.slots)*2) % len(r.slots)
		out = append(out, r.slots[slot])
	}
	return out
}
