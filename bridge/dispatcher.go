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

// Package bridge assembles one game node of the wallet bridge: it consumes
// commands and presence from the transport, applies them through the store
// under per-user session leases, broadcasts resulting updates and delivers
// the audit trail.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerbridge/go-ledgerbridge/audit"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/messaging"
	"github.com/ledgerbridge/go-ledgerbridge/session"
	"github.com/ledgerbridge/go-ledgerbridge/store"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// AuditSink delivers applied transactions to the audit trail.
// *audit.Client implements it.
type AuditSink interface {
	Deliver(ctx context.Context, entry audit.Entry) error
}

// DispatcherConfig collects the dispatcher dependencies.
type DispatcherConfig struct {
	NodeID   string
	Ledger   store.Ledger
	Registry *session.Registry
	Emitter  *Emitter
	Audit    AuditSink // nil disables audit delivery

	// MaxCommandAge drops commands whose sentAt stamp is older than this.
	// Zero disables the freshness check.
	MaxCommandAge time.Duration

	// MaxRetries bounds the optimistic write loop per command.
	MaxRetries int

	Now    func() time.Time
	Logger log.Logger
}

// Dispatcher routes consumed envelopes into per-user session work.
type Dispatcher struct {
	cfg DispatcherConfig
	log log.Logger
	now func() time.Time
}

// NewDispatcher creates a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("component", "dispatcher")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = store.DefaultMaxRetries
	}
	return &Dispatcher{cfg: cfg, log: logger, now: now}
}

// HandleEnvelope is the transport callback for the command and presence
// topics. Malformed envelopes are dropped; they never return an error
// upstream because redelivery cannot fix them.
func (d *Dispatcher) HandleEnvelope(ctx context.Context, env messaging.Envelope) error {
	switch env.Type {
	case messaging.TypeCommand:
		d.handleCommand(env.Payload)
	case messaging.TypePresenceJoin, messaging.TypePresenceLeave:
		d.handlePresence(env.Type, env.Payload)
	default:
		d.log.Debug("Ignoring envelope of unknown type", "type", env.Type)
	}
	return nil
}

func (d *Dispatcher) handleCommand(payload json.RawMessage) {
	commandsReceived.Inc()

	var cmd wallet.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		commandsDropped.Inc()
		d.log.Debug("Dropping undecodable command", "err", err)
		return
	}
	if err := cmd.Validate(); err != nil {
		commandsDropped.Inc()
		d.log.Debug("Dropping invalid command", "err", err)
		return
	}
	if d.cfg.MaxCommandAge > 0 && cmd.SentAt > 0 {
		age := d.now().Sub(time.UnixMilli(cmd.SentAt))
		if age > d.cfg.MaxCommandAge {
			commandsDropped.Inc()
			d.log.Warn("Dropping stale command", "txn", cmd.TxnID, "user", cmd.UserID, "age", age)
			return
		}
	}

	d.cfg.Registry.Enqueue(cmd.UserID, func(ctx context.Context, sess *session.Session) error {
		return d.process(ctx, sess, cmd)
	})
}

// process runs on the user's session queue while this node owns the lease.
func (d *Dispatcher) process(ctx context.Context, sess *session.Session, cmd wallet.Command) error {
	// Owner fast path: the in-memory ring mirror answers replays without a
	// store round-trip. The store-side ring rebuild still backstops this
	// for opportunistic (non-resident) commands.
	if sess.Ring != nil {
		if _, ok := sess.Ring.Get(cmd.TxnID); ok {
			commandsDeduped.Inc()
			d.log.Debug("Replay answered from ring mirror", "user", cmd.UserID, "txn", cmd.TxnID)
			return nil
		}
	}

	out, err := store.ApplyCommand(ctx, d.cfg.Ledger, cmd, d.now, d.cfg.MaxRetries)
	if err != nil {
		return err
	}
	if out.Conflicts > 0 {
		versionConflicts.Add(float64(out.Conflicts))
	}
	sess.SetRing(out.Ring)

	// Replays stop here: no broadcast, no audit. The record held in the
	// ring is from the original application and may predate later
	// commands, so re-emitting it would announce a stale balance.
	if !out.Inserted {
		commandsDeduped.Inc()
		d.log.Debug("Replay detected in store", "user", cmd.UserID, "txn", cmd.TxnID)
		return nil
	}

	commandsApplied.Inc()
	d.log.Info("Command applied", "user", cmd.UserID, "txn", cmd.TxnID,
		"delta", cmd.Delta, "balance", out.Balance, "conflicts", out.Conflicts)
	d.cfg.Emitter.Emit(ctx, wallet.NewUpdate(cmd.UserID, out.Record))

	if d.cfg.Audit != nil {
		entry := audit.NewEntry(d.cfg.NodeID, cmd.UserID, out.Record)
		if err := d.cfg.Audit.Deliver(ctx, entry); err != nil {
			// Audit is best-effort from the node's perspective; the ledger
			// already committed.
			auditFailures.Inc()
			d.log.Warn("Audit delivery failed", "key", entry.DeliveryKey(), "err", err)
		}
	}
	return nil
}

type presencePayload struct {
	UserID string `json:"userId"`
}

func (d *Dispatcher) handlePresence(typ string, payload json.RawMessage) {
	var p presencePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		d.log.Debug("Dropping malformed presence envelope", "type", typ, "err", err)
		return
	}
	switch typ {
	case messaging.TypePresenceJoin:
		d.log.Debug("Player joined", "user", p.UserID)
		d.cfg.Registry.PlayerJoined(p.UserID)
	case messaging.TypePresenceLeave:
		d.log.Debug("Player left", "user", p.UserID)
		d.cfg.Registry.PlayerLeft(p.UserID)
	}
}
