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

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitDoubles(t *testing.T) {
	p := Policy{Base: 250 * time.Millisecond, MaxAttempts: 4}
	for attempt, want := range []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
	} {
		require.Equal(t, want, p.Wait(attempt, 0), "attempt %d", attempt)
	}
}

func TestWaitJitterBounds(t *testing.T) {
	p := Policy{Base: 250 * time.Millisecond, Jitter: 100 * time.Millisecond, MaxAttempts: 4}
	for i := 0; i < 200; i++ {
		w := p.Wait(0, 0)
		require.GreaterOrEqual(t, w, 250*time.Millisecond)
		require.Less(t, w, 350*time.Millisecond)
	}
}

func TestWaitHintOverrides(t *testing.T) {
	p := Policy{Base: 250 * time.Millisecond, MaxAttempts: 4}
	require.Equal(t, 7*time.Second, p.Wait(3, 7*time.Second))
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Policy{Base: time.Millisecond, MaxAttempts: 4}.Retry(context.Background(), func() (bool, time.Duration, error) {
		calls++
		return false, 0, errors.New("permanent")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Policy{Base: time.Millisecond, MaxAttempts: 4}.Retry(context.Background(), func() (bool, time.Duration, error) {
		calls++
		return true, 0, errors.New("transient")
	})
	require.Error(t, err)
	require.Equal(t, 4, calls)
}

func TestRetrySucceedsMidway(t *testing.T) {
	calls := 0
	err := Policy{Base: time.Millisecond, MaxAttempts: 4}.Retry(context.Background(), func() (bool, time.Duration, error) {
		calls++
		if calls < 3 {
			return true, 0, errors.New("transient")
		}
		return false, 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Policy{Base: time.Minute, MaxAttempts: 4}.Retry(ctx, func() (bool, time.Duration, error) {
		return true, 0, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}
