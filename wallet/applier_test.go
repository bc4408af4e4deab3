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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func TestApplyCredit(t *testing.T) {
	ring, _ := NewRing(RingCapacity, nil)
	res := Apply(0, Command{TxnID: "A", UserID: "u", Delta: 10, Actor: "admin", Source: SourceBot}, ring, fixedNow)

	require.True(t, res.Inserted)
	require.Equal(t, int64(10), res.Balance)
	require.Equal(t, int64(10), res.Record.BalanceAfter)
	require.Equal(t, int64(1700000000000), res.Record.ProcessedAt)
}

func TestApplyIdempotent(t *testing.T) {
	ring, _ := NewRing(RingCapacity, nil)
	cmd := Command{TxnID: "A", UserID: "u", Delta: 10, Actor: "admin", Source: SourceBot}

	first := Apply(0, cmd, ring, fixedNow)
	require.True(t, first.Inserted)

	replay := Apply(first.Balance, cmd, ring, fixedNow)
	require.False(t, replay.Inserted)
	require.Equal(t, first.Balance, replay.Balance)
	require.Equal(t, first.Record, replay.Record)
	require.Equal(t, 1, ring.Len())
}

func TestApplyReplayIgnoresDifferingDelta(t *testing.T) {
	ring, _ := NewRing(RingCapacity, nil)
	Apply(0, Command{TxnID: "A", UserID: "u", Delta: 10, Source: SourceBot}, ring, fixedNow)

	res := Apply(10, Command{TxnID: "A", UserID: "u", Delta: -500, Source: SourceBot}, ring, fixedNow)
	require.False(t, res.Inserted)
	require.Equal(t, int64(10), res.Balance)
	require.Equal(t, int64(10), res.Record.Delta, "replay keeps the original delta")
}

func TestApplyConservation(t *testing.T) {
	// Balance equals the sum of deltas over distinct txnIds, under random
	// interleaving of fresh commands and replays.
	ring, _ := NewRing(RingCapacity, nil)
	rng := rand.New(rand.NewSource(42))

	var balance int64
	var sum int64
	issued := []Command{}
	for i := 0; i < 500; i++ {
		var cmd Command
		if len(issued) > 0 && rng.Intn(3) == 0 {
			cmd = issued[rng.Intn(len(issued))] // replay
		} else {
			cmd = Command{
				TxnID:  fmt.Sprintf("txn-%d", len(issued)),
				UserID: "u",
				Delta:  int64(rng.Intn(2000) - 1000),
				Source: SourceGame,
			}
			if cmd.Delta == 0 {
				cmd.Delta = 1
			}
			// Keep the replay window inside the ring so dedup holds.
			if len(issued) == RingCapacity {
				issued = issued[1:]
			}
			issued = append(issued, cmd)
			sum += cmd.Delta
		}
		res := Apply(balance, cmd, ring, fixedNow)
		balance = res.Balance
		require.LessOrEqual(t, ring.Len(), RingCapacity)
	}
	require.Equal(t, sum, balance)
}

func TestApplyRingEvictionScenario(t *testing.T) {
	// 65 distinct +1 commands, then a replay of the evicted first txn.
	ring, _ := NewRing(RingCapacity, nil)
	var balance int64
	for i := 1; i <= 65; i++ {
		res := Apply(balance, Command{TxnID: fmt.Sprintf("T%d", i), UserID: "u", Delta: 1, Source: SourceGame}, ring, fixedNow)
		require.True(t, res.Inserted)
		balance = res.Balance
	}
	require.Equal(t, int64(65), balance)
	_, resident := ring.Get("T1")
	require.False(t, resident)

	res := Apply(balance, Command{TxnID: "T1", UserID: "u", Delta: 1, Source: SourceGame}, ring, fixedNow)
	require.True(t, res.Inserted, "evicted txn re-applies")
	require.Equal(t, int64(66), res.Balance)
	_, resident = ring.Get("T2")
	require.False(t, resident)
}

func TestCommandValidate(t *testing.T) {
	valid := Command{TxnID: "t", UserID: "u", Delta: 1}
	require.NoError(t, valid.Validate())

	for name, cmd := range map[string]Command{
		"no txn":     {UserID: "u", Delta: 1},
		"no user":    {TxnID: "t", Delta: 1},
		"zero delta": {TxnID: "t", UserID: "u"},
	} {
		require.Error(t, cmd.Validate(), name)
	}
}

func TestNewUpdate(t *testing.T) {
	upd := NewUpdate("u-1", Record{
		TxnID:        "A",
		Delta:        10,
		BalanceAfter: 25,
		Actor:        "admin",
		Source:       SourceBot,
		ProcessedAt:  1700000000000,
	})
	require.Equal(t, "u-1", upd.UserID)
	require.Equal(t, int64(25), upd.Balance)
	require.Equal(t, "2023-11-14T22:13:20Z", upd.OccurredAt)
}
