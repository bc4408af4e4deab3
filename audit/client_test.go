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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/internal/testlog"
)

func testClient(t *testing.T, url string) *Client {
	c, err := NewClient(ClientConfig{
		URL:     url,
		Secret:  testSecret,
		NodeID:  "node-a",
		Backoff: backoff.Policy{Base: time.Millisecond, Jitter: time.Millisecond, MaxAttempts: 4},
		Logger:  testlog.Logger(t),
	})
	require.NoError(t, err)
	return c
}

func TestClientDeliverSignsAndKeys(t *testing.T) {
	var gotKey, gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	entry := testEntry("txn-1")
	require.NoError(t, testClient(t, srv.URL).Deliver(context.Background(), entry))
	require.Equal(t, "node-a-txn-1", gotKey)

	var req ingestRequest
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.True(t, Verify(testSecret, req.Payload, gotSig))
}

func TestClientRetriesBusySink(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		switch attempts {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	require.NoError(t, testClient(t, srv.URL).Deliver(context.Background(), testEntry("txn-1")))
	require.Equal(t, 3, attempts)
}

func TestClientRejectionIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL).Deliver(context.Background(), testEntry("txn-1"))
	require.ErrorContains(t, err, "status 409")
	require.Equal(t, 1, attempts, "4xx responses must not be retried")
}

func TestClientGivesUpAfterBudget(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL).Deliver(context.Background(), testEntry("txn-1"))
	require.Error(t, err)
	require.Equal(t, 4, attempts)
}

func TestRetryAfterParsing(t *testing.T) {
	h := http.Header{}
	require.Zero(t, retryAfter(h))

	h.Set("Retry-After", "2")
	require.Equal(t, 2*time.Second, retryAfter(h))

	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	d := retryAfter(h)
	require.Greater(t, d, 80*time.Second)
	require.LessOrEqual(t, d, 90*time.Second)

	h.Set("Retry-After", "garbage")
	require.Zero(t, retryAfter(h))
}
