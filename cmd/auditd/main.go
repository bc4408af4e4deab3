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

// auditd is the audit sink: a signed webhook endpoint persisting the
// bridge's transaction trail and serving it back out for review.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ledgerbridge/go-ledgerbridge/audit"
	"github.com/ledgerbridge/go-ledgerbridge/internal/debug"
	"github.com/ledgerbridge/go-ledgerbridge/internal/flags"
	"github.com/ledgerbridge/go-ledgerbridge/log"
)

var (
	dbURLFlag = &cli.StringFlag{
		Name:     "db.url",
		Usage:    "Database DSN (postgres:// URL or SQLite file path)",
		EnvVars:  []string{"AUDIT_DB_URL"},
		Required: true,
	}
	secretFlag = &cli.StringFlag{
		Name:     "secret",
		Usage:    "Shared HMAC secret webhook deliveries are signed with",
		EnvVars:  []string{"AUDIT_SECRET"},
		Required: true,
	}
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "HTTP listen address",
		Value:   ":8380",
		EnvVars: []string{"AUDIT_LISTEN"},
	}
	corsFlag = &cli.StringSliceFlag{
		Name:    "http.corsdomain",
		Usage:   "Comma separated list of origins allowed to query the log",
		EnvVars: []string{"AUDIT_CORS_DOMAINS"},
	}
)

func main() {
	app := flags.NewApp("wallet bridge audit sink")
	app.Flags = flags.Merge([]cli.Flag{dbURLFlag, secretFlag, listenFlag, corsFlag}, debug.Flags)
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
	logger := log.New("component", "auditd")

	db, err := audit.OpenDB(ctx.String(dbURLFlag.Name), logger.New("component", "auditdb"))
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := audit.NewService(db, audit.ServiceConfig{
		Secret:      []byte(ctx.String(secretFlag.Name)),
		CORSDomains: ctx.StringSlice(corsFlag.Name),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ctx.String(listenFlag.Name),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Audit sink listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.Info("Shutting down", "signal", s)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
