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

// Package session enforces single-writer wallet mutation. Each node runs a
// registry of per-user sessions: work for one user is serialized through a
// FIFO queue, and mutation only happens while the node holds the user's
// lease in the shared store. Users with a resident player keep the lease
// across commands; commands for absent users take it opportunistically and
// release it afterwards.
package session

import (
	"context"
	"errors"

	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// ErrNotOwner reports that another node holds the user's session lease.
// Not an error condition for dispatchers: the owning node processes the
// envelope instead.
var ErrNotOwner = errors.New("session: lease held by another node")

// Lock is a held per-user session lease.
type Lock interface {
	// Release gives the lease up. Safe to call once per acquisition.
	Release(ctx context.Context) error

	// Lost fires when the lease expired without an explicit release,
	// typically after losing heartbeat for the lease TTL.
	Lost() <-chan struct{}
}

// Locker hands out per-user session leases. Acquire returns ErrNotOwner
// without blocking for long when another node holds the lease.
type Locker interface {
	Acquire(ctx context.Context, userID string) (Lock, error)
}

// Status labels the per-user session state machine on one node.
type Status int

const (
	StatusIdle Status = iota
	StatusLoadRequested
	StatusOwned
	StatusNotOwner
	StatusReleased
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoadRequested:
		return "loadRequested"
	case StatusOwned:
		return "owned"
	case StatusNotOwner:
		return "notOwner"
	case StatusReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Session is the view handed to tasks running under a held lease.
type Session struct {
	UserID string

	// Ring is the owner's in-memory mirror of the persisted processed
	// sequence. Nil until the first successful store round-trip; tasks
	// use it as a fast replay check and refresh it after mutations.
	Ring *wallet.Ring

	// Resident reports whether the lease outlives this task (a player is
	// resident on this node) or was taken opportunistically for it.
	Resident bool

	state *userState
}

// SetRing updates the owner's ring mirror.
func (s *Session) SetRing(r *wallet.Ring) {
	s.Ring = r
	s.state.ring = r
}
