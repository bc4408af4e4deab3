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

// Package audit delivers applied wallet transactions to a signed webhook
// sink and serves the sink itself: an append-only, idempotency-keyed
// transaction log backed by SQL.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/ledgerbridge/go-ledgerbridge/common/canon"
)

// SignatureHeader carries the hex HMAC of the request body.
const SignatureHeader = "X-Signature"

// IdempotencyKeyHeader carries the delivery key deduplicating retries.
const IdempotencyKeyHeader = "Idempotency-Key"

// Sign computes the lowercase hex HMAC-SHA-256 of the canonical form of
// body. Canonicalizing before signing means semantically equal JSON always
// signs the same, whatever key order the sender serialized with.
func Sign(secret []byte, body []byte) (string, error) {
	canonical, err := canon.Transform(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a received signature against body in constant time.
func Verify(secret []byte, body []byte, signature string) bool {
	want, err := Sign(secret, body)
	if err != nil {
		return false
	}
	if len(want) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}
