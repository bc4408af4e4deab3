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

// Package backoff implements the retry policy shared by the messaging
// transport, the ledger store and the audit webhook client: exponential
// waits with uniform jitter, bounded attempts, and server-advertised retry
// hints taking precedence over the computed wait.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	Base        time.Duration // wait before the first retry, doubled per attempt
	Jitter      time.Duration // uniform extra wait in [0, Jitter)
	MaxAttempts int           // total attempts, including the first
}

// Default is the policy used across the bridge unless configured otherwise.
var Default = Policy{
	Base:        250 * time.Millisecond,
	Jitter:      100 * time.Millisecond,
	MaxAttempts: 4,
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = Default.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = Default.MaxAttempts
	}
	return p
}

// Wait returns the wait before retry number attempt (zero-based). A positive
// hint overrides the computed wait; the jitter applies either way.
func (p Policy) Wait(attempt int, hint time.Duration) time.Duration {
	p = p.withDefaults()
	wait := p.Base << uint(attempt)
	if hint > 0 {
		wait = hint
	}
	if p.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return wait
}

// Op is one retryable attempt. It reports whether the failure is worth
// retrying and may carry a server-advertised wait hint.
type Op func() (retry bool, hint time.Duration, err error)

// Retry runs op until it succeeds, fails permanently, exhausts the attempt
// budget or the context is cancelled. The returned error is the last one
// observed.
func (p Policy) Retry(ctx context.Context, op Op) error {
	p = p.withDefaults()
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		retry, hint, err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == p.MaxAttempts-1 {
			break
		}
		if err := Sleep(ctx, p.Wait(attempt, hint)); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
