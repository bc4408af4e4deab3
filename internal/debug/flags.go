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

// Package debug wires the shared logging and metrics flags into a runtime
// setup every binary calls from its cli action.
package debug

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ledgerbridge/go-ledgerbridge/log"
)

var (
	verbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity (trace|debug|info|warn|error|crit)",
		Value:   "info",
		EnvVars: []string{"BRIDGE_VERBOSITY"},
	}
	logjsonFlag = &cli.BoolFlag{
		Name:    "log.json",
		Usage:   "Format logs as JSON",
		EnvVars: []string{"BRIDGE_LOG_JSON"},
	}
	logFileFlag = &cli.StringFlag{
		Name:    "log.file",
		Usage:   "Write logs to a file (rotated at log.maxsize megabytes)",
		EnvVars: []string{"BRIDGE_LOG_FILE"},
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:    "log.maxsize",
		Usage:   "Maximum size in megabytes of a log file before rotation",
		Value:   100,
		EnvVars: []string{"BRIDGE_LOG_MAXSIZE"},
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:    "metrics.addr",
		Usage:   "Serve prometheus metrics on this address (empty = disabled)",
		EnvVars: []string{"BRIDGE_METRICS_ADDR"},
	}
)

// Flags holds all command-line flags required for debugging.
var Flags = []cli.Flag{
	verbosityFlag, logjsonFlag, logFileFlag, logMaxSizeFlag, metricsAddrFlag,
}

var logOutput io.WriteCloser

// Setup initializes logging and metrics based on the CLI flags. It should
// be called as early as possible in the program.
func Setup(ctx *cli.Context) error {
	level, err := log.LevelFromString(ctx.String(verbosityFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid verbosity: %w", err)
	}

	var output io.Writer = os.Stderr
	if file := ctx.String(logFileFlag.Name); file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    ctx.Int(logMaxSizeFlag.Name),
			MaxBackups: 10,
			Compress:   true,
		}
		logOutput = rotator
		output = io.MultiWriter(os.Stderr, rotator)
	}
	if ctx.Bool(logjsonFlag.Name) {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(output, level)))
	} else {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, level)))
	}

	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Starting metrics server", "addr", addr)
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Metrics server failed", "err", err)
			}
		}()
	}
	return nil
}

// Exit flushes and closes the rotating log output, if one was set up.
func Exit() {
	if logOutput != nil {
		logOutput.Close()
	}
}
