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
	"errors"
	"fmt"
	"time"

	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// DefaultMaxRetries bounds the read-modify-write loop on version conflicts.
const DefaultMaxRetries = 4

// UpdateOutcome is the result of a persisted command application.
type UpdateOutcome struct {
	wallet.ApplyResult

	// Version is the profile version after the apply: the committed
	// version on a mutation, the version read on a dedup.
	Version int64

	// Ring mirrors the persisted processed sequence, for the session
	// owner to keep as its in-memory dedup cache.
	Ring *wallet.Ring

	// Conflicts counts the optimistic-concurrency retries taken.
	Conflicts int
}

// ApplyCommand runs the idempotent applier over the persisted profile in a
// read-modify-write loop, emulating a transactional update on a store that
// only offers optimistic concurrency. Each iteration rebuilds the ring from
// the freshly read processed sequence, so a concurrent writer's records are
// never double-accounted. Exhausting maxRetries conflicts surfaces as a
// transient failure.
func ApplyCommand(ctx context.Context, l Ledger, cmd wallet.Command, now func() time.Time, maxRetries int) (*UpdateOutcome, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	var lastErr error
	conflicts := 0
	for attempt := 0; attempt < maxRetries; attempt++ {
		profile, version, err := l.ReadProfile(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			profile = &wallet.Profile{}
		}
		ring, err := wallet.NewRing(wallet.RingCapacity, profile.Processed)
		if err != nil {
			return nil, err
		}

		res := wallet.Apply(profile.Balance, cmd, ring, now)
		if !res.Inserted {
			return &UpdateOutcome{ApplyResult: res, Version: version, Ring: ring, Conflicts: conflicts}, nil
		}

		next := &wallet.Profile{Balance: res.Balance, Processed: ring.OldestFirst()}
		newVersion, err := l.WriteProfile(ctx, cmd.UserID, next, version)
		if errors.Is(err, ErrVersionConflict) {
			conflicts++
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return &UpdateOutcome{ApplyResult: res, Version: newVersion, Ring: ring, Conflicts: conflicts}, nil
	}
	return nil, &TransientError{fmt.Errorf("command %s exhausted %d attempts: %w", cmd.TxnID, maxRetries, lastErr)}
}
