// Copyright 2025 The go-ledgerbridge Authors
// This file is part of go-ledgerbridge.
//
// go-ledgerbridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ledgerbridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ledgerbridge. If not, see <http://www.gnu.org/licenses/>.

// bridged runs one wallet bridge node on a game server: it consumes wallet
// commands and player presence, applies transactions to the shared ledger
// under per-user session leases, broadcasts balance updates and delivers
// the audit trail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ledgerbridge/go-ledgerbridge/audit"
	"github.com/ledgerbridge/go-ledgerbridge/bridge"
	"github.com/ledgerbridge/go-ledgerbridge/internal/debug"
	"github.com/ledgerbridge/go-ledgerbridge/internal/flags"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/messaging"
	"github.com/ledgerbridge/go-ledgerbridge/store"
)

var (
	kafkaBrokersFlag = &cli.StringSliceFlag{
		Name:     "kafka.brokers",
		Usage:    "Comma separated Kafka broker addresses",
		EnvVars:  []string{"BRIDGE_KAFKA_BROKERS"},
		Required: true,
	}
	etcdEndpointsFlag = &cli.StringSliceFlag{
		Name:     "etcd.endpoints",
		Usage:    "Comma separated etcd endpoints for the wallet store",
		EnvVars:  []string{"BRIDGE_ETCD_ENDPOINTS"},
		Required: true,
	}
	auditURLFlag = &cli.StringFlag{
		Name:     "audit.url",
		Usage:    "Audit webhook endpoint",
		EnvVars:  []string{"BRIDGE_AUDIT_URL"},
		Required: true,
	}
	auditSecretFlag = &cli.StringFlag{
		Name:     "audit.secret",
		Usage:    "Shared HMAC secret for audit deliveries",
		EnvVars:  []string{"BRIDGE_AUDIT_SECRET"},
		Required: true,
	}
	nodeIDFlag = &cli.StringFlag{
		Name:    "node.id",
		Usage:   "Stable node identifier (default: generated)",
		EnvVars: []string{"BRIDGE_NODE_ID"},
	}
	cmdMaxAgeFlag = &cli.DurationFlag{
		Name:    "cmd.maxage",
		Usage:   "Drop commands older than this by their sentAt stamp (0 = off)",
		EnvVars: []string{"BRIDGE_CMD_MAX_AGE"},
	}
	watchdogIntervalFlag = &cli.DurationFlag{
		Name:    "watchdog.interval",
		Usage:   "Re-broadcast resident balances at this interval (0 = off)",
		EnvVars: []string{"BRIDGE_WATCHDOG_INTERVAL"},
	}
)

func main() {
	app := flags.NewApp("wallet ledger bridge node")
	app.Flags = flags.Merge([]cli.Flag{
		kafkaBrokersFlag, etcdEndpointsFlag, auditURLFlag, auditSecretFlag,
		nodeIDFlag, cmdMaxAgeFlag, watchdogIntervalFlag,
	}, debug.Flags)
	app.Before = debug.Setup
	app.After = func(*cli.Context) error {
		debug.Exit()
		return nil
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	nodeID := ctx.String(nodeIDFlag.Name)
	if nodeID == "" {
		nodeID = "bridge-" + uuid.NewString()
	}
	logger := log.New("node", nodeID)

	st, err := store.Open(store.Config{Endpoints: ctx.StringSlice(etcdEndpointsFlag.Name)})
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer st.Close()

	broker, err := messaging.NewBroker(messaging.Config{
		Brokers: ctx.StringSlice(kafkaBrokersFlag.Name),
		Logger:  logger.New("component", "messaging"),
	})
	if err != nil {
		return fmt.Errorf("connecting to kafka: %w", err)
	}
	defer broker.Close()

	sink, err := audit.NewClient(audit.ClientConfig{
		URL:    ctx.String(auditURLFlag.Name),
		Secret: []byte(ctx.String(auditSecretFlag.Name)),
		NodeID: nodeID,
		Logger: logger.New("component", "audit"),
	})
	if err != nil {
		return err
	}

	node, err := bridge.NewNode(bridge.Config{
		NodeID:           nodeID,
		MaxCommandAge:    ctx.Duration(cmdMaxAgeFlag.Name),
		WatchdogInterval: ctx.Duration(watchdogIntervalFlag.Name),
		Logger:           logger,
	}, broker, st, sink)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down", "signal", "interrupt")
		cancel()
	}()

	return node.Run(runCtx)
}
