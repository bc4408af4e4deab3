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
	"errors"
	"sync"
	"time"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

const (
	// queueDepth bounds how many envelopes may wait per user before the
	// registry starts dropping; the transport redelivers.
	queueDepth = 64

	defaultAcquireTimeout = 5 * time.Second
)

// TaskFunc runs serialized for its user while the node owns the session.
type TaskFunc func(ctx context.Context, sess *Session) error

// Config collects registry dependencies.
type Config struct {
	Locker         Locker
	AcquireTimeout time.Duration  // per-acquisition deadline
	Backoff        backoff.Policy // bounded retry for resident acquisition
	Logger         log.Logger

	// OnNotOwner is invoked when a task is skipped because another node
	// owns the user. Optional.
	OnNotOwner func(userID string)

	// OnTaskError is invoked when a task returns a non-ownership error.
	// Optional.
	OnTaskError func(userID string, err error)
}

// Registry owns the per-user sessions of one node.
type Registry struct {
	cfg Config
	log log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	drainWg sync.WaitGroup
	watchWg sync.WaitGroup

	mu     sync.Mutex
	users  map[string]*userState
	closed bool
}

// userState fields below queue are written only on the user's queue
// goroutine, but the writes still take the registry mutex: ResidentUsers
// and Close read them from other goroutines.
type userState struct {
	userID   string
	queue    chan queuedTask
	status   Status
	resident bool
	lock     Lock
	ring     *wallet.Ring
}

type queuedTask struct {
	run       TaskFunc
	ownership bool // false for join/leave bookkeeping tasks
}

// NewRegistry creates a registry. Close must be called to release any held
// leases.
func NewRegistry(cfg Config) *Registry {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("component", "session")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:    cfg,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		users:  make(map[string]*userState),
	}
}

// Enqueue schedules fn for userID. Tasks for one user run FIFO, one at a
// time; tasks for distinct users run in parallel. fn only runs while this
// node owns the user's session: resident users reuse the held lease, others
// get an opportunistic acquire/release around the call. When another node
// owns the user, the task is dropped silently (the owner processes the
// envelope).
func (r *Registry) Enqueue(userID string, fn TaskFunc) {
	r.enqueue(userID, queuedTask{run: fn, ownership: true})
}

// PlayerJoined makes userID resident on this node: the session lease is
// acquired (with bounded retries) and held until PlayerLeft, shutdown or
// lease loss.
func (r *Registry) PlayerJoined(userID string) {
	r.enqueue(userID, queuedTask{ownership: false, run: func(ctx context.Context, sess *Session) error {
		return r.makeResident(ctx, sess.state)
	}})
}

// PlayerLeft releases userID's resident session, if any.
func (r *Registry) PlayerLeft(userID string) {
	r.enqueue(userID, queuedTask{ownership: false, run: func(ctx context.Context, sess *Session) error {
		r.releaseLocked(ctx, sess.state)
		return nil
	}})
}

// ResidentUsers lists users whose sessions this node currently holds.
func (r *Registry) ResidentUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, st := range r.users {
		if st.resident && st.lock != nil {
			out = append(out, id)
		}
	}
	return out
}

// Close releases every held lease and stops the queues.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	// Release through the queues so in-flight tasks drain first.
	for _, st := range r.users {
		st := st
		select {
		case st.queue <- queuedTask{ownership: false, run: func(ctx context.Context, sess *Session) error {
			r.releaseLocked(ctx, st)
			return nil
		}}:
		default:
			r.log.Warn("Session queue full during shutdown", "user", st.userID)
		}
		close(st.queue)
	}
	r.mu.Unlock()

	// Queues drain (and leases release) before the lease watchers stop.
	r.drainWg.Wait()
	r.cancel()
	r.watchWg.Wait()
}

func (r *Registry) enqueue(userID string, task queuedTask) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Debug("Registry closed, dropping task", "user", userID)
		return
	}
	st, ok := r.users[userID]
	if !ok {
		st = &userState{
			userID: userID,
			queue:  make(chan queuedTask, queueDepth),
			status: StatusIdle,
		}
		r.users[userID] = st
		r.drainWg.Add(1)
		go r.drain(st)
	}
	// Sending under the lock keeps the send ordered against Close, which
	// closes the queues while holding it.
	select {
	case st.queue <- task:
	default:
		r.log.Warn("Session queue full, dropping envelope", "user", userID)
	}
	r.mu.Unlock()
}

// drain is the single task runner for one user.
func (r *Registry) drain(st *userState) {
	defer r.drainWg.Done()
	for task := range st.queue {
		r.runTask(st, task)
	}
}

func (r *Registry) runTask(st *userState, task queuedTask) {
	sess := &Session{UserID: st.userID, Ring: st.ring, Resident: st.resident, state: st}

	if !task.ownership {
		if err := task.run(r.ctx, sess); err != nil && !errors.Is(err, ErrNotOwner) {
			r.log.Warn("Session bookkeeping failed", "user", st.userID, "err", err)
		}
		return
	}

	opportunistic := false
	if st.lock == nil {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.AcquireTimeout)
		lock, err := r.cfg.Locker.Acquire(ctx, st.userID)
		cancel()
		if errors.Is(err, ErrNotOwner) {
			r.setState(func() { st.status = StatusNotOwner })
			r.log.Debug("Not session owner, skipping", "user", st.userID)
			if r.cfg.OnNotOwner != nil {
				r.cfg.OnNotOwner(st.userID)
			}
			return
		}
		if err != nil {
			r.log.Warn("Session acquisition failed", "user", st.userID, "err", err)
			if r.cfg.OnTaskError != nil {
				r.cfg.OnTaskError(st.userID, err)
			}
			return
		}
		r.setState(func() {
			st.lock = lock
			st.status = StatusOwned
		})
		opportunistic = true
	}

	err := task.run(r.ctx, sess)
	if err != nil && !errors.Is(err, ErrNotOwner) {
		r.log.Warn("Session task failed", "user", st.userID, "err", err)
		if r.cfg.OnTaskError != nil {
			r.cfg.OnTaskError(st.userID, err)
		}
	}

	if opportunistic && !st.resident {
		r.releaseLocked(r.ctx, st)
	}
}

// makeResident upgrades the user to a held session, retrying acquisition a
// bounded number of times. Runs on the user's queue.
func (r *Registry) makeResident(ctx context.Context, st *userState) error {
	if st.resident && st.lock != nil {
		return nil
	}
	r.setState(func() { st.status = StatusLoadRequested })
	if st.lock == nil {
		err := r.cfg.Backoff.Retry(ctx, func() (bool, time.Duration, error) {
			actx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
			defer cancel()
			lock, err := r.cfg.Locker.Acquire(actx, st.userID)
			if err != nil {
				// Another node may still be releasing; worth retrying.
				return true, 0, err
			}
			r.setState(func() { st.lock = lock })
			return false, 0, nil
		})
		if err != nil {
			r.setState(func() { st.status = StatusNotOwner })
			r.log.Warn("Resident session not acquired", "user", st.userID, "err", err)
			return err
		}
	}
	r.setState(func() {
		st.resident = true
		st.status = StatusOwned
	})
	r.watchLease(st, st.lock)
	r.log.Debug("Session resident", "user", st.userID)
	return nil
}

// watchLease drops the session map entry when the lease is lost, so a later
// command reacquires instead of mutating under an expired claim.
func (r *Registry) watchLease(st *userState, lock Lock) {
	r.watchWg.Add(1)
	go func() {
		defer r.watchWg.Done()
		select {
		case <-lock.Lost():
			r.log.Warn("Session lease lost", "user", st.userID)
			r.enqueue(st.userID, queuedTask{ownership: false, run: func(ctx context.Context, sess *Session) error {
				if sess.state.lock == lock {
					r.setState(func() {
						sess.state.lock = nil
						sess.state.resident = false
						sess.state.ring = nil
						sess.state.status = StatusReleased
					})
				}
				return nil
			}})
		case <-r.ctx.Done():
		}
	}()
}

// setState applies a per-user state mutation under the registry mutex.
func (r *Registry) setState(mutate func()) {
	r.mu.Lock()
	mutate()
	r.mu.Unlock()
}

// releaseLocked releases st's lease and resets the session. Runs on the
// user's queue.
func (r *Registry) releaseLocked(ctx context.Context, st *userState) {
	lock := st.lock
	if lock == nil {
		r.setState(func() { st.resident = false })
		return
	}
	r.setState(func() {
		st.lock = nil
		st.resident = false
		st.ring = nil
		st.status = StatusReleased
	})
	// The lease itself is released outside the mutex; Release is a network
	// call.
	rctx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
	if err := lock.Release(rctx); err != nil {
		r.log.Warn("Session release failed", "user", st.userID, "err", err)
	}
	cancel()
}
