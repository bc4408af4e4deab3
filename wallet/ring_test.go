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
	"testing"

	"github.com/stretchr/testify/require"
)

func rec(txn string, delta int64) Record {
	return Record{TxnID: txn, Delta: delta, ProcessedAt: 1}
}

func TestNewRingRejectsBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, -64} {
		_, err := NewRing(capacity, nil)
		require.Error(t, err, "capacity %d", capacity)
	}
}

func TestRingRecordAndGet(t *testing.T) {
	r, err := NewRing(4, nil)
	require.NoError(t, err)

	inserted, stored := r.Record(rec("a", 10))
	require.True(t, inserted)
	require.Equal(t, "a", stored.TxnID)

	got, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(10), got.Delta)

	_, ok = r.Get("missing")
	require.False(t, ok)
}

func TestRingDuplicateReturnsOriginal(t *testing.T) {
	r, _ := NewRing(4, nil)
	r.Record(rec("a", 10))

	inserted, stored := r.Record(rec("a", 999))
	require.False(t, inserted)
	require.Equal(t, int64(10), stored.Delta, "first writer wins")
	require.Equal(t, 1, r.Len())
}

func TestRingEvictsOldest(t *testing.T) {
	r, _ := NewRing(3, nil)
	for i := 1; i <= 4; i++ {
		r.Record(rec(fmt.Sprintf("t%d", i), int64(i)))
	}
	require.Equal(t, 3, r.Len())
	_, ok := r.Get("t1")
	require.False(t, ok, "oldest must be evicted")
	for _, txn := range []string{"t2", "t3", "t4"} {
		_, ok := r.Get(txn)
		require.True(t, ok, txn)
	}
}

func TestRingEvictionBoundaryAtCapacity(t *testing.T) {
	// The documented eviction boundary: 65 distinct txns leave t2..t65
	// resident, and a replay of t1 is no longer deduplicated.
	r, _ := NewRing(RingCapacity, nil)
	for i := 1; i <= RingCapacity+1; i++ {
		inserted, _ := r.Record(rec(fmt.Sprintf("t%d", i), 1))
		require.True(t, inserted)
	}
	require.Equal(t, RingCapacity, r.Len())
	_, ok := r.Get("t1")
	require.False(t, ok)

	inserted, _ := r.Record(rec("t1", 1))
	require.True(t, inserted, "evicted txn re-applies")
	_, ok = r.Get("t2")
	require.False(t, ok, "re-insertion evicts the new oldest")
}

func TestRingOrdering(t *testing.T) {
	r, _ := NewRing(3, nil)
	for _, txn := range []string{"a", "b", "c", "d"} {
		r.Record(rec(txn, 1))
	}

	newest := r.NewestFirst()
	require.Equal(t, []string{"d", "c", "b"}, txns(newest))

	oldest := r.OldestFirst()
	require.Equal(t, []string{"b", "c", "d"}, txns(oldest))
}

func TestRingSeedRoundTrip(t *testing.T) {
	r, _ := NewRing(4, nil)
	for _, txn := range []string{"a", "b", "c"} {
		r.Record(rec(txn, 1))
	}

	reloaded, err := NewRing(4, r.OldestFirst())
	require.NoError(t, err)
	require.Equal(t, r.OldestFirst(), reloaded.OldestFirst())
	require.Equal(t, r.Len(), reloaded.Len())
}

func TestRingSeedOverCapacityKeepsNewest(t *testing.T) {
	seed := []Record{rec("a", 1), rec("b", 1), rec("c", 1)}
	r, err := NewRing(2, seed)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, txns(r.OldestFirst()))
}

func txns(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.TxnID
	}
	return out
}
