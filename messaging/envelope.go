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

// Package messaging moves envelopes between the bot, the bridge nodes and
// the game servers over Kafka. Topics carry JSON envelopes tagged with a
// type string; a content-md5 record header lets consumers drop messages
// corrupted in transit instead of crashing on them.
package messaging

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ledgerbridge/go-ledgerbridge/common/canon"
)

// Envelope types understood by the bridge.
const (
	TypeCommand       = "economy.command"
	TypeUpdate        = "economy.update"
	TypePresenceJoin  = "presence.join"
	TypePresenceLeave = "presence.leave"
)

// headerContentMD5 is the record header carrying the base64 MD5 of the
// message value.
const headerContentMD5 = "content-md5"

// Envelope is the wire unit on every bridge topic.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wireMessage is the outer wrap on the wire. Keeping the envelope under a
// single "message" key leaves room for transport metadata without breaking
// old consumers.
type wireMessage struct {
	Message json.RawMessage `json:"message"`
}

// NewEnvelope wraps payload, which must be JSON-marshalable, into an
// envelope of the given type.
func NewEnvelope(typ string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Encode canonicalizes the envelope, wraps it as {"message": ...} and
// returns the value bytes together with the base64 MD5 checksum for the
// content-md5 header. Canonical form keeps the checksum stable across
// producers whatever key order they serialize with.
func (e Envelope) Encode() (value []byte, checksum string, err error) {
	inner, err := canon.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("encoding envelope: %w", err)
	}
	value, err = json.Marshal(wireMessage{Message: inner})
	if err != nil {
		return nil, "", fmt.Errorf("wrapping envelope: %w", err)
	}
	sum := md5.Sum(value)
	return value, base64.StdEncoding.EncodeToString(sum[:]), nil
}

// DecodeEnvelope unwraps and parses value. When checksum is non-empty it is
// verified against the value bytes first.
func DecodeEnvelope(value []byte, checksum string) (Envelope, error) {
	if checksum != "" {
		sum := md5.Sum(value)
		if got := base64.StdEncoding.EncodeToString(sum[:]); got != checksum {
			return Envelope{}, fmt.Errorf("checksum mismatch: header %q, value %q", checksum, got)
		}
	}
	var wire wireMessage
	if err := json.Unmarshal(value, &wire); err != nil {
		return Envelope{}, fmt.Errorf("decoding message wrap: %w", err)
	}
	if len(wire.Message) == 0 {
		return Envelope{}, fmt.Errorf("message without body")
	}
	var env Envelope
	if err := json.Unmarshal(wire.Message, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}
