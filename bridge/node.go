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
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/messaging"
	"github.com/ledgerbridge/go-ledgerbridge/session"
	"github.com/ledgerbridge/go-ledgerbridge/store"
)

// Config collects one game node's settings.
type Config struct {
	NodeID string

	// MaxCommandAge drops commands older than this by their sentAt stamp;
	// zero disables the check.
	MaxCommandAge time.Duration

	// WatchdogInterval enables the balance refresh republisher when
	// positive.
	WatchdogInterval time.Duration

	Backoff backoff.Policy
	Logger  log.Logger
}

// Node is one running bridge instance on a game server.
type Node struct {
	cfg        Config
	broker     *messaging.Broker
	st         *store.Store
	registry   *session.Registry
	dispatcher *Dispatcher
	watchdog   *Watchdog
	log        log.Logger
}

// NewNode wires a node from its connected dependencies. The caller owns the
// broker and store lifecycles; the node owns the session registry.
func NewNode(cfg Config, broker *messaging.Broker, st *store.Store, sink AuditSink) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("node id not configured")
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = backoff.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("node", cfg.NodeID)
	}

	registry := session.NewRegistry(session.Config{
		Locker:  st,
		Backoff: cfg.Backoff,
		Logger:  logger.New("component", "session"),
		OnNotOwner: func(string) {
			commandsNotOwner.Inc()
		},
	})
	emitter := NewEmitter(broker, logger.New("component", "emitter"))
	dispatcher := NewDispatcher(DispatcherConfig{
		NodeID:        cfg.NodeID,
		Ledger:        st,
		Registry:      registry,
		Emitter:       emitter,
		Audit:         sink,
		MaxCommandAge: cfg.MaxCommandAge,
		Logger:        logger.New("component", "dispatcher"),
	})

	n := &Node{
		cfg:        cfg,
		broker:     broker,
		st:         st,
		registry:   registry,
		dispatcher: dispatcher,
		log:        logger,
	}
	if cfg.WatchdogInterval > 0 {
		n.watchdog = NewWatchdog(st, registry, emitter, cfg.WatchdogInterval, logger.New("component", "watchdog"))
	}
	return n, nil
}

// Run consumes the command and presence topics until ctx is cancelled, then
// releases every held session.
func (n *Node) Run(ctx context.Context) error {
	for _, topic := range []string{messaging.TopicCommands, messaging.TopicPresence} {
		if err := n.broker.EnsureTopic(topic); err != nil {
			return err
		}
	}

	n.log.Info("Bridge node starting", "watchdog", n.cfg.WatchdogInterval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Every node consumes every command under its own group id and
		// filters by session ownership.
		return n.broker.Subscribe(gctx, n.cfg.NodeID, []string{messaging.TopicCommands, messaging.TopicPresence}, n.dispatcher.HandleEnvelope)
	})
	if n.watchdog != nil {
		g.Go(func() error {
			return n.watchdog.Run(gctx)
		})
	}
	err := g.Wait()

	n.registry.Close()
	n.log.Info("Bridge node stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
