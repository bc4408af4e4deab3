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

package messaging

import "strings"

const (
	// TopicCommands carries wallet mutation commands; every bridge node
	// consumes it in the same consumer group.
	TopicCommands = "wallet.commands"

	// TopicPresence carries player join/leave notifications from the game
	// servers.
	TopicPresence = "wallet.presence"

	// userEventsPrefix prefixes the per-user update broadcast topics.
	userEventsPrefix = "wallet.events."
)

// UserEventsTopic returns the broadcast topic for one user's wallet
// updates. User ids come from an external identity system, so characters
// outside the topic charset are replaced.
func UserEventsTopic(userID string) string {
	return userEventsPrefix + sanitizeTopicPart(userID)
}

func sanitizeTopicPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
