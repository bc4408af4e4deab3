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

package store

import (
	"context"
	"errors"

	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/ledgerbridge/go-ledgerbridge/session"
)

// Acquire takes the per-user session lease. The lease rides a store-side
// session with TTL keepalive: if this node stops heartbeating, the lease
// expires and Lost fires. When another node holds the lease, Acquire
// returns session.ErrNotOwner without waiting for it.
func (s *Store) Acquire(ctx context.Context, userID string) (session.Lock, error) {
	// The session deliberately does not inherit ctx: keepalive must outlive
	// the acquisition deadline.
	sess, err := concurrency.NewSession(s.cli, concurrency.WithTTL(s.ttl))
	if err != nil {
		return nil, classify(err)
	}
	mutex := concurrency.NewMutex(sess, sessionPrefix+userID)
	if err := mutex.TryLock(ctx); err != nil {
		sess.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, session.ErrNotOwner
		}
		return nil, classify(err)
	}
	s.log.Debug("Session lease acquired", "user", userID, "lease", sess.Lease())
	return &sessionLock{sess: sess, mutex: mutex, userID: userID}, nil
}

type sessionLock struct {
	sess   *concurrency.Session
	mutex  *concurrency.Mutex
	userID string
}

func (l *sessionLock) Release(ctx context.Context) error {
	err := l.mutex.Unlock(ctx)
	if cerr := l.sess.Close(); err == nil {
		err = cerr
	}
	return classify(err)
}

func (l *sessionLock) Lost() <-chan struct{} {
	return l.sess.Done()
}
