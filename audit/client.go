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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/log"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

const defaultRequestTimeout = 10 * time.Second

// Entry is the webhook payload for one applied transaction.
type Entry struct {
	TxnID        string        `json:"txnId"`
	UserID       string        `json:"userId"`
	Delta        int64         `json:"delta"`
	BalanceAfter int64         `json:"balanceAfter"`
	Actor        string        `json:"actor,omitempty"`
	Source       wallet.Source `json:"source"`
	Reason       string        `json:"reason,omitempty"`
	ProcessedAt  int64         `json:"processedAt"`
	NodeID       string        `json:"nodeId"`
}

// NewEntry builds the entry for a record applied on nodeID.
func NewEntry(nodeID, userID string, rec wallet.Record) Entry {
	return Entry{
		TxnID:        rec.TxnID,
		UserID:       userID,
		Delta:        rec.Delta,
		BalanceAfter: rec.BalanceAfter,
		Actor:        rec.Actor,
		Source:       rec.Source,
		Reason:       rec.Reason,
		ProcessedAt:  rec.ProcessedAt,
		NodeID:       nodeID,
	}
}

// DeliveryKey identifies this delivery across retries and node restarts.
// Scoping by node keeps two nodes' replays of one txn distinguishable at
// the sink, which stores the txn exactly once regardless.
func (e Entry) DeliveryKey() string {
	return e.NodeID + "-" + e.TxnID
}

// ClientConfig configures webhook delivery.
type ClientConfig struct {
	URL     string
	Secret  []byte
	NodeID  string
	Timeout time.Duration // per-request deadline
	Backoff backoff.Policy
	HTTP    *http.Client
	Logger  log.Logger
}

// Client posts signed audit entries to the sink.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  log.Logger
}

// NewClient validates cfg and readies a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("audit webhook URL not configured")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("audit webhook secret not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = backoff.Default
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("component", "audit")
	}
	return &Client{cfg: cfg, http: httpClient, log: logger}, nil
}

// Deliver posts entry to the sink, retrying on 429 and 5xx responses with
// backoff. A Retry-After response header overrides the computed delay for
// that attempt. Rejections (other 4xx) are permanent.
func (c *Client) Deliver(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	// The signature covers the payload alone; see the sink's verify side.
	signature, err := Sign(c.cfg.Secret, payload)
	if err != nil {
		return fmt.Errorf("signing audit entry: %w", err)
	}
	body, err := json.Marshal(map[string]json.RawMessage{"payload": payload})
	if err != nil {
		return fmt.Errorf("wrapping audit entry: %w", err)
	}
	key := entry.DeliveryKey()

	return c.cfg.Backoff.Retry(ctx, func() (bool, time.Duration, error) {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return false, 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdempotencyKeyHeader, key)
		req.Header.Set(SignatureHeader, signature)

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Warn("Audit delivery failed", "key", key, "err", err)
			return true, 0, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.log.Trace("Audit entry delivered", "key", key, "status", resp.StatusCode)
			return false, 0, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			hint := retryAfter(resp.Header)
			c.log.Warn("Audit sink busy", "key", key, "status", resp.StatusCode, "retryAfter", hint)
			return true, hint, fmt.Errorf("audit sink returned %d", resp.StatusCode)
		default:
			// The sink refused the entry; retrying the same bytes cannot
			// succeed.
			return false, 0, fmt.Errorf("audit sink rejected delivery %s: status %d", key, resp.StatusCode)
		}
	})
}

// retryAfter parses a Retry-After header, either delta-seconds or an HTTP
// date. Returns 0 when absent or unparseable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
