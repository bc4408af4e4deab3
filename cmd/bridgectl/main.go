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

// bridgectl is the operator front-end of the wallet bridge: it publishes
// credit and debit commands with read-back confirmation, reads balances
// straight from the store and queries the audit log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ledgerbridge/go-ledgerbridge/internal/debug"
	"github.com/ledgerbridge/go-ledgerbridge/internal/flags"
	"github.com/ledgerbridge/go-ledgerbridge/messaging"
	"github.com/ledgerbridge/go-ledgerbridge/store"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

const (
	confirmWindow = 10 * time.Second
	confirmPoll   = 500 * time.Millisecond
)

var (
	kafkaBrokersFlag = &cli.StringSliceFlag{
		Name:    "kafka.brokers",
		Usage:   "Comma separated Kafka broker addresses",
		EnvVars: []string{"BRIDGE_KAFKA_BROKERS"},
	}
	etcdEndpointsFlag = &cli.StringSliceFlag{
		Name:    "etcd.endpoints",
		Usage:   "Comma separated etcd endpoints for the wallet store",
		EnvVars: []string{"BRIDGE_ETCD_ENDPOINTS"},
	}
	auditURLFlag = &cli.StringFlag{
		Name:    "audit.url",
		Usage:   "Base URL of the audit sink",
		EnvVars: []string{"BRIDGE_AUDIT_URL"},
	}
	userFlag = &cli.StringFlag{
		Name:     "user",
		Usage:    "Target user id",
		Required: true,
	}
	amountFlag = &cli.Int64Flag{
		Name:     "amount",
		Usage:    "Amount in base currency units (positive)",
		Required: true,
	}
	actorFlag = &cli.StringFlag{
		Name:  "actor",
		Usage: "Operator identity recorded with the transaction",
		Value: "bridgectl",
	}
	reasonFlag = &cli.StringFlag{
		Name:  "reason",
		Usage: "Free-form reason recorded with the transaction",
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of audit entries to list",
		Value: 20,
	}
	auditUserFlag = &cli.StringFlag{
		Name:  "user",
		Usage: "Filter audit entries to one user id (all users when omitted)",
	}
)

func main() {
	app := flags.NewApp("wallet ledger bridge operator tool")
	app.Flags = debug.Flags
	app.Before = debug.Setup
	app.After = func(*cli.Context) error {
		debug.Exit()
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:   "credit",
			Usage:  "Add funds to a user's wallet",
			Flags:  flags.Merge([]cli.Flag{kafkaBrokersFlag, userFlag, amountFlag, actorFlag, reasonFlag}),
			Action: func(ctx *cli.Context) error { return publishCommand(ctx, 1) },
		},
		{
			Name:   "debit",
			Usage:  "Remove funds from a user's wallet",
			Flags:  flags.Merge([]cli.Flag{kafkaBrokersFlag, userFlag, amountFlag, actorFlag, reasonFlag}),
			Action: func(ctx *cli.Context) error { return publishCommand(ctx, -1) },
		},
		{
			Name:   "balance",
			Usage:  "Read a user's balance from the store",
			Flags:  flags.Merge([]cli.Flag{etcdEndpointsFlag, userFlag}),
			Action: readBalance,
		},
		{
			Name:   "audit",
			Usage:  "List recent audit entries, optionally for one user",
			Flags:  flags.Merge([]cli.Flag{auditURLFlag, auditUserFlag, limitFlag}),
			Action: queryAudit,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// publishCommand sends a credit or debit and waits for its confirmation on
// the user's event topic. An unconfirmed command is reported, not rolled
// back: the bridge may still apply it after the window.
func publishCommand(ctx *cli.Context, sign int64) error {
	brokers := ctx.StringSlice(kafkaBrokersFlag.Name)
	if len(brokers) == 0 {
		return errors.New("kafka brokers not configured")
	}
	amount := ctx.Int64(amountFlag.Name)
	if amount <= 0 {
		return errors.New("amount must be positive")
	}
	cmd := wallet.Command{
		TxnID:  uuid.NewString(),
		UserID: ctx.String(userFlag.Name),
		Delta:  sign * amount,
		Actor:  ctx.String(actorFlag.Name),
		Source: wallet.SourceBot,
		Reason: ctx.String(reasonFlag.Name),
		SentAt: time.Now().UnixMilli(),
	}

	broker, err := messaging.NewBroker(messaging.Config{Brokers: brokers})
	if err != nil {
		return err
	}
	defer broker.Close()

	eventsTopic := messaging.UserEventsTopic(cmd.UserID)
	if err := broker.EnsureTopic(eventsTopic); err != nil {
		return err
	}

	// Watch before publishing so the confirmation cannot slip past.
	watchCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	var confirmed atomic.Pointer[wallet.Update]
	go broker.Watch(watchCtx, eventsTopic, func(_ context.Context, env messaging.Envelope) error {
		if env.Type != messaging.TypeUpdate {
			return nil
		}
		var update wallet.Update
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			return nil
		}
		if update.TxnID == cmd.TxnID {
			confirmed.Store(&update)
		}
		return nil
	})

	env, err := messaging.NewEnvelope(messaging.TypeCommand, cmd)
	if err != nil {
		return err
	}
	if err := broker.Publish(ctx.Context, messaging.TopicCommands, cmd.UserID, env); err != nil {
		return err
	}
	fmt.Printf("published txn %s (delta %+d) for user %s\n", cmd.TxnID, cmd.Delta, cmd.UserID)

	deadline := time.Now().Add(confirmWindow)
	ticker := time.NewTicker(confirmPoll)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		<-ticker.C
		if update := confirmed.Load(); update != nil {
			fmt.Printf("confirmed: balance %d at %s\n", update.Balance, update.OccurredAt)
			return nil
		}
	}
	fmt.Println("unconfirmed: no update observed within 10s; the command may still apply")
	return nil
}

func readBalance(ctx *cli.Context) error {
	endpoints := ctx.StringSlice(etcdEndpointsFlag.Name)
	if len(endpoints) == 0 {
		return errors.New("etcd endpoints not configured")
	}
	st, err := store.Open(store.Config{Endpoints: endpoints})
	if err != nil {
		return err
	}
	defer st.Close()

	userID := ctx.String(userFlag.Name)
	rctx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
	defer cancel()
	profile, version, err := st.ReadProfile(rctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		fmt.Printf("user %s has no wallet\n", userID)
		return nil
	}
	fmt.Printf("user %s: balance %d (version %d, %d processed txns tracked)\n",
		userID, profile.Balance, version, len(profile.Processed))
	return nil
}

func queryAudit(ctx *cli.Context) error {
	base := ctx.String(auditURLFlag.Name)
	if base == "" {
		return errors.New("audit URL not configured")
	}
	q := url.Values{}
	if user := ctx.String(auditUserFlag.Name); user != "" {
		q.Set("userId", user)
	}
	q.Set("limit", strconv.Itoa(ctx.Int(limitFlag.Name)))

	rctx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, base+"/log/transactions?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("audit sink returned %d: %s", resp.StatusCode, body)
	}

	var transactions []struct {
		TxnID        string `json:"txnId"`
		UserID       string `json:"userId"`
		Delta        int64  `json:"delta"`
		BalanceAfter int64  `json:"balanceAfter"`
		Actor        string `json:"actor"`
		Source       string `json:"source"`
		Reason       string `json:"reason"`
		ProcessedAt  int64  `json:"processedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&transactions); err != nil {
		return err
	}
	if len(transactions) == 0 {
		fmt.Println("no transactions")
		return nil
	}
	for _, txn := range transactions {
		at := time.UnixMilli(txn.ProcessedAt).UTC().Format(time.RFC3339)
		fmt.Printf("%s  %-12s %+6d -> %6d  %-8s %-10s %s  %s\n",
			at, txn.UserID, txn.Delta, txn.BalanceAfter, txn.Source, txn.Actor, txn.TxnID, txn.Reason)
	}
	return nil
}
