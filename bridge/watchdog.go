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

package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/session"
	"github.com/ledgerbridge/go-ledgerbridge/store"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// Watchdog periodically re-broadcasts the persisted balance of every user
// resident on this node as a delta-zero refresh update. Observers that
// missed a lossy broadcast converge without waiting for the next real
// transaction. Refresh updates never touch the ledger or the audit trail.
type Watchdog struct {
	ledger   store.Ledger
	registry *session.Registry
	emitter  *Emitter
	interval time.Duration
	now      func() time.Time
	log      log.Logger
}

// NewWatchdog creates a watchdog ticking at interval.
func NewWatchdog(ledger store.Ledger, registry *session.Registry, emitter *Emitter, interval time.Duration, logger log.Logger) *Watchdog {
	if logger == nil {
		logger = log.New("component", "watchdog")
	}
	return &Watchdog{
		ledger:   ledger,
		registry: registry,
		emitter:  emitter,
		interval: interval,
		now:      time.Now,
		log:      logger,
	}
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	for _, userID := range w.registry.ResidentUsers() {
		profile, _, err := w.ledger.ReadProfile(ctx, userID)
		if err != nil {
			w.log.Warn("Watchdog read failed", "user", userID, "err", err)
			continue
		}
		if profile == nil {
			continue
		}
		w.emitter.Emit(ctx, wallet.Update{
			TxnID:      "refresh:" + uuid.NewString(),
			UserID:     userID,
			Delta:      0,
			Balance:    profile.Balance,
			Actor:      "watchdog",
			Source:     wallet.SourceGame,
			OccurredAt: w.now().UTC().Format(time.RFC3339Nano),
		})
	}
}
