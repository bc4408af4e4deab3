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
	"sync"

	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/messaging"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// Publisher is the transport surface the emitter needs. *messaging.Broker
// implements it.
type Publisher interface {
	EnsureTopic(topic string) error
	Publish(ctx context.Context, topic, key string, env messaging.Envelope) error
}

// Emitter broadcasts wallet updates on the per-user event topics. Emission
// is lossy: a failed publish is logged and dropped, the ledger stays the
// source of truth and the watchdog or the next command re-announces the
// balance.
type Emitter struct {
	pub Publisher
	log log.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewEmitter creates an emitter over pub.
func NewEmitter(pub Publisher, logger log.Logger) *Emitter {
	if logger == nil {
		logger = log.New("component", "emitter")
	}
	return &Emitter{pub: pub, log: logger, ensured: make(map[string]bool)}
}

// Emit publishes update on its user's event topic, creating the topic on
// first use.
func (e *Emitter) Emit(ctx context.Context, update wallet.Update) {
	topic := messaging.UserEventsTopic(update.UserID)

	e.mu.Lock()
	ensured := e.ensured[topic]
	e.mu.Unlock()
	if !ensured {
		if err := e.pub.EnsureTopic(topic); err != nil {
			e.log.Warn("Event topic creation failed", "topic", topic, "err", err)
			// Publish may still succeed with broker-side auto-create.
		} else {
			e.mu.Lock()
			e.ensured[topic] = true
			e.mu.Unlock()
		}
	}

	env, err := messaging.NewEnvelope(messaging.TypeUpdate, update)
	if err != nil {
		e.log.Error("Update encoding failed", "user", update.UserID, "err", err)
		return
	}
	if err := e.pub.Publish(ctx, topic, update.UserID, env); err != nil {
		e.log.Warn("Update broadcast failed", "user", update.UserID, "txn", update.TxnID, "err", err)
		return
	}
	updatesEmitted.Inc()
}
