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

// Package store persists wallet profiles in a versioned key/value store with
// optimistic concurrency, and hands out the per-user session leases that
// make each profile single-writer across the node fleet.
package store

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

const (
	profilePrefix = "wallet:"
	sessionPrefix = "wallet-session:"

	// DefaultSessionTTL is the lease TTL in seconds. A node that stops
	// heartbeating loses its sessions after at most this long.
	DefaultSessionTTL = 30

	// DefaultDialTimeout bounds the initial connection to the store.
	DefaultDialTimeout = 10 * time.Second
)

// Ledger is the versioned view of per-user wallet profiles.
//
// ReadProfile returns (nil, 0, nil) for a missing entry; entry-not-found is
// not an error. WriteProfile fails with ErrVersionConflict when the entry no
// longer matches version; version 0 demands that the entry not exist yet.
type Ledger interface {
	ReadProfile(ctx context.Context, userID string) (*wallet.Profile, int64, error)
	WriteProfile(ctx context.Context, userID string, profile *wallet.Profile, version int64) (int64, error)
}

// Config collects the store client settings.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	SessionTTL  int // seconds, 0 means DefaultSessionTTL
}

// Store is the etcd-backed Ledger and session lease fabric.
type Store struct {
	cli       *clientv3.Client
	ownClient bool
	ttl       int
	log       log.Logger
}

// Open connects to the store. Required endpoints are validated by the
// caller's configuration layer; dialing failures surface here.
func Open(cfg Config) (*Store, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, classify(err)
	}
	s := NewWithClient(cli, cfg)
	s.ownClient = true
	return s, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of cli.
func NewWithClient(cli *clientv3.Client, cfg Config) *Store {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		cli: cli,
		ttl: ttl,
		log: log.New("component", "store"),
	}
}

// Close releases the underlying client if the store owns it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.cli.Close()
}

func profileKey(userID string) string {
	return profilePrefix + userID
}

// ReadProfile fetches the profile and its version token (the entry's mod
// revision).
func (s *Store) ReadProfile(ctx context.Context, userID string) (*wallet.Profile, int64, error) {
	resp, err := s.cli.Get(ctx, profileKey(userID))
	if err != nil {
		return nil, 0, classify(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	kv := resp.Kvs[0]
	var profile wallet.Profile
	if err := json.Unmarshal(kv.Value, &profile); err != nil {
		return nil, 0, err
	}
	return &profile, kv.ModRevision, nil
}

// WriteProfile commits the profile if the entry still matches version.
func (s *Store) WriteProfile(ctx context.Context, userID string, profile *wallet.Profile, version int64) (int64, error) {
	val, err := json.Marshal(profile)
	if err != nil {
		return 0, err
	}
	key := profileKey(userID)

	var cmp clientv3.Cmp
	if version == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	} else {
		cmp = clientv3.Compare(clientv3.ModRevision(key), "=", version)
	}
	resp, err := s.cli.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, string(val))).Commit()
	if err != nil {
		return 0, classify(err)
	}
	if !resp.Succeeded {
		s.log.Trace("Conditional write lost the race", "user", userID, "version", version)
		return 0, ErrVersionConflict
	}
	return resp.Header.Revision, nil
}
