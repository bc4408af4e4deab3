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

package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ledgerbridge/go-ledgerbridge/common/canon"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

// ErrPayloadMismatch reports a delivery key reused with a different payload,
// which points at a sender bug or tampering rather than a retry.
var ErrPayloadMismatch = errors.New("audit: delivery key reused with different payload")

const (
	// DefaultListLimit and MaxListLimit bound transaction listing.
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Deliveries and transactions are tracked separately: a webhook retry hits
// the delivery table, while two nodes replaying one txn under distinct
// delivery keys still store the transaction once. The DDL sticks to SQL
// both backends accept, so the sink runs against Postgres in production and
// a SQLite file in tests.
const schema = `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	delivery_key TEXT PRIMARY KEY,
	payload_hash TEXT NOT NULL,
	received_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_transactions (
	txn_id        TEXT PRIMARY KEY,
	user_id       TEXT   NOT NULL,
	delta         BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	actor         TEXT   NOT NULL DEFAULT '',
	source        TEXT   NOT NULL,
	reason        TEXT   NOT NULL DEFAULT '',
	processed_at  BIGINT NOT NULL,
	node_id       TEXT   NOT NULL,
	created_at    TEXT   NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_transactions_user_idx ON audit_transactions (user_id, processed_at);
`

// DB is the audit sink's transaction log.
type DB struct {
	db  *sql.DB
	log log.Logger
}

// OpenDB connects to the database named by dsn and applies the schema.
// postgres:// and postgresql:// DSNs select the Postgres driver; everything
// else opens as a SQLite database path.
func OpenDB(dsn string, logger log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New("component", "auditdb")
	}
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if driver == "sqlite" {
		// modernc's driver serializes writes in-process; a single
		// connection avoids table-lock errors under the pool.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying audit schema: %w", err)
	}
	logger.Info("Audit database ready", "driver", driver)
	return &DB{db: db, log: logger}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.db.Close() }

// PayloadHash is the dedup fingerprint of a delivery payload: SHA-256 over
// the canonical JSON form, so key-order differences between retries don't
// read as tampering.
func PayloadHash(payload []byte) (string, error) {
	canonical, err := canon.Transform(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Ingest records a delivery and its transaction in one database
// transaction. Replays of the same key with the same payload hash succeed
// without writing (deduped); the same key with a different hash returns
// ErrPayloadMismatch. Returns whether the delivery was new.
func (d *DB) Ingest(ctx context.Context, key string, entry Entry, payloadHash string) (created bool, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
INSERT INTO webhook_deliveries (delivery_key, payload_hash, received_at)
VALUES ($1, $2, $3)
ON CONFLICT (delivery_key) DO NOTHING`, key, payloadHash, now)
	if err != nil {
		return false, fmt.Errorf("inserting delivery: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		var existing string
		if err = tx.QueryRowContext(ctx,
			`SELECT payload_hash FROM webhook_deliveries WHERE delivery_key = $1`, key).Scan(&existing); err != nil {
			return false, fmt.Errorf("reading existing delivery: %w", err)
		}
		if existing != payloadHash {
			err = ErrPayloadMismatch
			return false, err
		}
		d.log.Debug("Audit delivery replayed", "key", key)
		return false, tx.Commit()
	}

	// Create-only: a second node delivering the same txn under its own key
	// must not rewrite the stored row.
	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_transactions (txn_id, user_id, delta, balance_after, actor, source, reason, processed_at, node_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (txn_id) DO NOTHING`,
		entry.TxnID, entry.UserID, entry.Delta, entry.BalanceAfter, entry.Actor,
		string(entry.Source), entry.Reason, entry.ProcessedAt, entry.NodeID, now)
	if err != nil {
		return false, fmt.Errorf("inserting audit row: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	d.log.Debug("Audit delivery stored", "key", key, "user", entry.UserID, "txn", entry.TxnID)
	return true, nil
}

// ListTransactions returns the newest entries, most recent first. An empty
// userID lists across all users. limit <= 0 means DefaultListLimit; values
// above MaxListLimit are clamped.
func (d *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := `
SELECT txn_id, user_id, delta, balance_after, actor, source, reason, processed_at, node_id
FROM audit_transactions
ORDER BY processed_at DESC, txn_id DESC
LIMIT $1`
	args := []interface{}{limit}
	if userID != "" {
		query = `
SELECT txn_id, user_id, delta, balance_after, actor, source, reason, processed_at, node_id
FROM audit_transactions WHERE user_id = $1
ORDER BY processed_at DESC, txn_id DESC
LIMIT $2`
		args = []interface{}{userID, limit}
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var source string
		if err := rows.Scan(&e.TxnID, &e.UserID, &e.Delta, &e.BalanceAfter, &e.Actor, &source, &e.Reason, &e.ProcessedAt, &e.NodeID); err != nil {
			return nil, err
		}
		e.Source = wallet.Source(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping reports database reachability for health checks.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
