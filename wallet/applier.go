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

import "time"

// ApplyResult reports the outcome of applying a command over a ring.
type ApplyResult struct {
	Balance  int64  // balance after the apply (unchanged on a replay)
	Inserted bool   // false when the txnId was already processed
	Record   Record // the inserted record, or the original on a replay
}

// Apply runs one command against the current balance and the dedup ring.
// Ties on txnId resolve first-writer-wins: a replay returns the original
// record and leaves the balance untouched, even if the replayed envelope
// carries a different delta. Apply never touches persistence; the caller
// owns read-modify-write against the store.
func Apply(balance int64, cmd Command, ring *Ring, now func() time.Time) ApplyResult {
	candidate := Record{
		TxnID:        cmd.TxnID,
		Delta:        cmd.Delta,
		BalanceAfter: balance + cmd.Delta,
		Actor:        cmd.Actor,
		Source:       cmd.Source,
		Reason:       cmd.Reason,
		ProcessedAt:  now().UnixMilli(),
	}
	inserted, stored := ring.Record(candidate)
	if !inserted {
		return ApplyResult{Balance: balance, Inserted: false, Record: stored}
	}
	return ApplyResult{Balance: candidate.BalanceAfter, Inserted: true, Record: candidate}
}
