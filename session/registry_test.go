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

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/internal/testlog"
)

func testRegistry(t *testing.T, fabric *MemoryLockFabric, mutate func(*Config)) *Registry {
	cfg := Config{
		Locker:         fabric.NodeLocker(),
		AcquireTimeout: time.Second,
		Backoff:        backoff.Policy{Base: time.Millisecond, Jitter: time.Millisecond, MaxAttempts: 3},
		Logger:         testlog.Logger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r := NewRegistry(cfg)
	t.Cleanup(r.Close)
	return r
}

// sync enqueues a marker task and waits for it, proving every prior task on
// the user's queue has completed.
func syncUser(t *testing.T, r *Registry, userID string) {
	t.Helper()
	done := make(chan struct{})
	r.enqueue(userID, queuedTask{ownership: false, run: func(context.Context, *Session) error {
		close(done)
		return nil
	}})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
}

func TestRegistryTasksRunFIFO(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		r.Enqueue("u", func(ctx context.Context, sess *Session) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	syncUser(t, r, "u")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, got := range order {
		require.Equal(t, i, got)
	}
}

func TestRegistryOpportunisticRelease(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	ran := false
	r.Enqueue("u", func(ctx context.Context, sess *Session) error {
		ran = true
		require.False(t, sess.Resident)
		return nil
	})
	syncUser(t, r, "u")
	require.True(t, ran)
	require.Empty(t, r.ResidentUsers(), "opportunistic lease must be released after the task")

	// The lease is free again: another node can take it.
	other := testRegistry(t, fabric, nil)
	otherRan := false
	other.Enqueue("u", func(ctx context.Context, sess *Session) error {
		otherRan = true
		return nil
	})
	syncUser(t, other, "u")
	require.True(t, otherRan)
}

func TestRegistryResidentKeepsLease(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	r.PlayerJoined("u")
	syncUser(t, r, "u")
	require.Equal(t, []string{"u"}, r.ResidentUsers())

	// Commands reuse the held lease and report residency.
	r.Enqueue("u", func(ctx context.Context, sess *Session) error {
		require.True(t, sess.Resident)
		return nil
	})
	syncUser(t, r, "u")
	require.Equal(t, []string{"u"}, r.ResidentUsers())

	r.PlayerLeft("u")
	syncUser(t, r, "u")
	require.Empty(t, r.ResidentUsers())
}

func TestRegistryNotOwnerSkipsTask(t *testing.T) {
	fabric := NewMemoryLockFabric()
	owner := testRegistry(t, fabric, nil)
	owner.PlayerJoined("u")
	syncUser(t, owner, "u")

	var skipped []string
	loser := testRegistry(t, fabric, func(cfg *Config) {
		cfg.OnNotOwner = func(userID string) { skipped = append(skipped, userID) }
	})
	ran := false
	loser.Enqueue("u", func(ctx context.Context, sess *Session) error {
		ran = true
		return nil
	})
	syncUser(t, loser, "u")
	require.False(t, ran, "task must not run without the lease")
	require.Equal(t, []string{"u"}, skipped)
}

func TestRegistryLeaseLossResetsSession(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	r.PlayerJoined("u")
	syncUser(t, r, "u")
	require.Equal(t, []string{"u"}, r.ResidentUsers())

	fabric.Expire("u")
	// Lease loss cleanup is queued by the watcher goroutine.
	require.Eventually(t, func() bool {
		return len(r.ResidentUsers()) == 0
	}, 5*time.Second, 5*time.Millisecond)

	// The next command reacquires rather than reusing the dead lease.
	ran := false
	r.Enqueue("u", func(ctx context.Context, sess *Session) error {
		ran = true
		require.Nil(t, sess.Ring, "stale ring mirror must be dropped with the lease")
		return nil
	})
	syncUser(t, r, "u")
	require.True(t, ran)
}

func TestRegistryDistinctUsersRunConcurrently(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	gate := make(chan struct{})
	blocked := make(chan struct{})
	r.Enqueue("slow", func(ctx context.Context, sess *Session) error {
		close(blocked)
		<-gate
		return nil
	})
	<-blocked

	// "fast" completes while "slow" is still blocked.
	done := make(chan struct{})
	r.Enqueue("fast", func(ctx context.Context, sess *Session) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fast user blocked behind slow user")
	}
	close(gate)
	syncUser(t, r, "slow")
}

func TestRegistryResidencyChurnWithConcurrentReads(t *testing.T) {
	// Join/leave churn on one goroutine while another reads the resident
	// set; run under the race detector this covers the registry's
	// cross-goroutine state accesses.
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.PlayerJoined("u")
			r.PlayerLeft("u")
		}
	}()
	for {
		select {
		case <-done:
			r.PlayerLeft("u")
			syncUser(t, r, "u")
			require.Empty(t, r.ResidentUsers())
			return
		default:
			r.ResidentUsers()
		}
	}
}

func TestRegistryCloseReleasesLeases(t *testing.T) {
	fabric := NewMemoryLockFabric()
	r := testRegistry(t, fabric, nil)
	r.PlayerJoined("u")
	syncUser(t, r, "u")
	r.Close()

	// Close is idempotent and the lease is free afterwards.
	r.Close()
	lock, err := fabric.NodeLocker().Acquire(context.Background(), "u")
	require.NoError(t, err)
	require.NoError(t, lock.Release(context.Background()))
}
