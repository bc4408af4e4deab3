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

// Package testlog provides a log handler for unit tests.
package testlog

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/ledgerbridge/go-ledgerbridge/log"
)

// Logger returns a logger which logs to the unit test log of t at trace
// verbosity. Records are buffered through the test log, so output only shows
// for failing tests (or with -v).
func Logger(t *testing.T) log.Logger {
	return LoggerWithLevel(t, log.LevelTrace)
}

// LoggerWithLevel returns a logger which logs to the unit test log of t,
// filtered to the given verbosity.
func LoggerWithLevel(t *testing.T, level slog.Level) log.Logger {
	handler := &bufHandler{t: t, level: level}
	return log.NewLogger(handler)
}

type bufHandler struct {
	t     *testing.T
	level slog.Level

	mu    sync.Mutex
	attrs []slog.Attr
}

func (h *bufHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *bufHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	attrs := h.attrs
	h.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteString(r.Message)
	writeAttr := func(a slog.Attr) bool {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	h.t.Log(buf.String())
	return nil
}

func (h *bufHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &bufHandler{
		t:     h.t,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *bufHandler) WithGroup(string) slog.Handler {
	panic("not implemented")
}
