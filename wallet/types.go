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

// Package wallet implements the transactional core of the ledger bridge:
// the bounded ring of processed transaction ids and the idempotent applier
// that commits signed deltas over it.
package wallet

import (
	"errors"
	"fmt"
	"time"
)

// Source identifies which front-end issued a command.
type Source string

const (
	SourceBot  Source = "discord"
	SourceGame Source = "game"
)

// Command is a request to mutate a user's balance. Commands are constructed
// by front-ends and treated as immutable by the bridge.
type Command struct {
	TxnID  string `json:"txnId"`
	UserID string `json:"userId"`
	Delta  int64  `json:"delta"`
	Actor  string `json:"actor"`
	Source Source `json:"source"`
	Reason string `json:"reason,omitempty"`

	// SentAt is an optional millisecond wall-clock stamp set by the
	// publisher, used by the optional command freshness check.
	SentAt int64 `json:"sentAt,omitempty"`
}

// Validate checks the well-formedness rules applied at ingress.
func (c *Command) Validate() error {
	if c.TxnID == "" {
		return errors.New("wallet: command without txnId")
	}
	if c.UserID == "" {
		return errors.New("wallet: command without userId")
	}
	if c.Delta == 0 {
		return fmt.Errorf("wallet: command %s has zero delta", c.TxnID)
	}
	return nil
}

// Record is the immutable outcome of the first successful apply of a
// command. Replays of the same txnId return the original record.
type Record struct {
	TxnID        string `json:"txnId"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balanceAfter"`
	Actor        string `json:"actor"`
	Source       Source `json:"source"`
	Reason       string `json:"reason,omitempty"`
	ProcessedAt  int64  `json:"processedAt"` // milliseconds
}

// Profile is the per-user ledger state persisted under wallet:{userId}.
// Balance is the sum of all deltas ever applied, not only those still held
// by the ring. Processed is ordered oldest to newest.
type Profile struct {
	Balance   int64    `json:"balance"`
	Processed []Record `json:"processed"`
}

// Copy returns a deep copy of the profile.
func (p *Profile) Copy() *Profile {
	cpy := &Profile{Balance: p.Balance}
	if p.Processed != nil {
		cpy.Processed = append([]Record{}, p.Processed...)
	}
	return cpy
}

// Update is the payload broadcast to observers after a successful mutation,
// and the payload posted to the audit sink. A zero Delta only occurs on
// synthetic refresh updates emitted by the watchdog.
type Update struct {
	TxnID      string `json:"txnId"`
	UserID     string `json:"userId"`
	Delta      int64  `json:"delta"`
	Balance    int64  `json:"balance"`
	Actor      string `json:"actor"`
	Source     Source `json:"source"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurredAt"` // ISO-8601
}

// NewUpdate builds the broadcast payload for an applied record.
func NewUpdate(userID string, rec Record) Update {
	return Update{
		TxnID:      rec.TxnID,
		UserID:     userID,
		Delta:      rec.Delta,
		Balance:    rec.BalanceAfter,
		Actor:      rec.Actor,
		Source:     rec.Source,
		Reason:     rec.Reason,
		OccurredAt: time.UnixMilli(rec.ProcessedAt).UTC().Format(time.RFC3339Nano),
	}
}
