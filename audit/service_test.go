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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerbridge/go-ledgerbridge/internal/testlog"
	"github.com/ledgerbridge/go-ledgerbridge/wallet"
)

var testSecret = []byte("test-webhook-secret")

func testService(t *testing.T) (*Service, *DB) {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "audit.db"), testlog.Logger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db, ServiceConfig{Secret: testSecret, Logger: testlog.Logger(t)})
	require.NoError(t, err)
	return svc, db
}

func testEntry(txnID string) Entry {
	return Entry{
		TxnID:        txnID,
		UserID:       "u-1",
		Delta:        25,
		BalanceAfter: 125,
		Actor:        "admin",
		Source:       wallet.SourceBot,
		Reason:       "event prize",
		ProcessedAt:  1700000000000,
		NodeID:       "node-a",
	}
}

func deliver(t *testing.T, handler http.Handler, entry Entry, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	signature, err := Sign(testSecret, payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]json.RawMessage{"payload": payload})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/log/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, entry.DeliveryKey())
	req.Header.Set(SignatureHeader, signature)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestStoresOnce(t *testing.T) {
	svc, db := testService(t)
	handler := svc.Handler()
	entry := testEntry("txn-1")

	rec := deliver(t, handler, entry, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.JSONEq(t, `{"accepted":true,"deduped":false}`, rec.Body.String())

	// A webhook retry with the same key and payload is acknowledged
	// without a second row.
	rec = deliver(t, handler, entry, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":true,"deduped":true}`, rec.Body.String())

	entries, err := db.ListTransactions(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry, entries[0])
}

func TestIngestCrossNodeTxnStoredOnce(t *testing.T) {
	svc, db := testService(t)
	handler := svc.Handler()

	entry := testEntry("txn-1")
	require.Equal(t, http.StatusCreated, deliver(t, handler, entry, nil).Code)

	// A second node replays the same transaction under its own delivery
	// key: the delivery is new, the transaction row is not duplicated.
	other := entry
	other.NodeID = "node-b"
	require.Equal(t, http.StatusCreated, deliver(t, handler, other, nil).Code)

	entries, err := db.ListTransactions(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestIngestRejectsKeyReuse(t *testing.T) {
	svc, _ := testService(t)
	handler := svc.Handler()

	entry := testEntry("txn-1")
	require.Equal(t, http.StatusCreated, deliver(t, handler, entry, nil).Code)

	// Same delivery key, different content.
	altered := entry
	altered.Delta = 9999
	rec := deliver(t, handler, altered, func(req *http.Request) {
		req.Header.Set(IdempotencyKeyHeader, entry.DeliveryKey())
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	svc, db := testService(t)
	rec := deliver(t, svc.Handler(), testEntry("txn-1"), func(req *http.Request) {
		req.Header.Set(SignatureHeader, "deadbeef")
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	entries, err := db.ListTransactions(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestIngestRequiresIdempotencyKey(t *testing.T) {
	svc, _ := testService(t)
	rec := deliver(t, svc.Handler(), testEntry("txn-1"), func(req *http.Request) {
		req.Header.Del(IdempotencyKeyHeader)
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAcceptsBodyFields(t *testing.T) {
	// Key and signature may travel in the body instead of headers, for
	// senders behind proxies that strip custom headers.
	svc, db := testService(t)
	handler := svc.Handler()
	entry := testEntry("txn-1")

	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	signature, err := Sign(testSecret, payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"payload":        json.RawMessage(payload),
		"signature":      signature,
		"idempotencyKey": entry.DeliveryKey(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/log/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := db.ListTransactions(context.Background(), "u-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Headers take precedence when both are present.
	rec = deliver(t, handler, entry, func(req *http.Request) {
		req.Header.Set(IdempotencyKeyHeader, entry.DeliveryKey())
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"accepted":true,"deduped":true}`, rec.Body.String())

	// A bad body signature with no header still fails verification.
	tampered, err := json.Marshal(map[string]interface{}{
		"payload":        json.RawMessage(payload),
		"signature":      "deadbeef",
		"idempotencyKey": entry.DeliveryKey(),
	})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/log/transactions", bytes.NewReader(tampered))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListTransactionsNewestFirst(t *testing.T) {
	svc, db := testService(t)
	handler := svc.Handler()
	for i := 0; i < 5; i++ {
		entry := testEntry("txn-" + string(rune('a'+i)))
		entry.ProcessedAt = 1700000000000 + int64(i)
		require.Equal(t, http.StatusCreated, deliver(t, handler, entry, nil).Code)
	}

	entries, err := db.ListTransactions(context.Background(), "u-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "txn-e", entries[0].TxnID)
	require.Equal(t, "txn-d", entries[1].TxnID)
	require.Equal(t, "txn-c", entries[2].TxnID)

	// Unknown users list empty, not 404; the body is a bare array.
	req := httptest.NewRequest(http.MethodGet, "/log/transactions?userId=ghost", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestListTransactionsUserFilterIsOptional(t *testing.T) {
	svc, _ := testService(t)
	handler := svc.Handler()
	for i, user := range []string{"u-1", "u-2", "u-1"} {
		entry := testEntry("txn-" + string(rune('a'+i)))
		entry.UserID = user
		entry.ProcessedAt = 1700000000000 + int64(i)
		require.Equal(t, http.StatusCreated, deliver(t, handler, entry, nil).Code)
	}

	// No userId: all users' rows, newest first.
	req := httptest.NewRequest(http.MethodGet, "/log/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 3)
	require.Equal(t, []string{"txn-c", "txn-b", "txn-a"}, []string{all[0].TxnID, all[1].TxnID, all[2].TxnID})

	// With userId: filtered to that user.
	req = httptest.NewRequest(http.MethodGet, "/log/transactions?userId=u-2", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var filtered []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	require.Equal(t, "u-2", filtered[0].UserID)
}

func TestListTransactionsLimitClamp(t *testing.T) {
	_, db := testService(t)
	_, err := db.ListTransactions(context.Background(), "u-1", MaxListLimit+50)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/log/transactions?userId=u-1&limit=-1", nil)
	rec := httptest.NewRecorder()
	svc, _ := testService(t)
	svc.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureCanonicalization(t *testing.T) {
	// The same object serialized with different key orders signs
	// identically.
	a := []byte(`{"txnId":"t","userId":"u","delta":5}`)
	b := []byte(`{"delta":5,"userId":"u","txnId":"t"}`)
	sigA, err := Sign(testSecret, a)
	require.NoError(t, err)
	sigB, err := Sign(testSecret, b)
	require.NoError(t, err)
	require.Equal(t, sigA, sigB)

	require.True(t, Verify(testSecret, b, sigA))
	require.False(t, Verify([]byte("other"), a, sigA))
	require.False(t, Verify(testSecret, a, "short"))
}
