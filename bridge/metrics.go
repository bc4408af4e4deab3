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

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "commands_received_total",
		Help: "Command envelopes consumed from the transport.",
	})
	commandsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "commands_applied_total",
		Help: "Commands that mutated a wallet.",
	})
	commandsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "commands_deduped_total",
		Help: "Commands skipped because the txn id was already processed.",
	})
	commandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "commands_dropped_total",
		Help: "Commands dropped on validation or freshness grounds.",
	})
	commandsNotOwner = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "commands_not_owner_total",
		Help: "Commands skipped because another node owns the session.",
	})
	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "store_version_conflicts_total",
		Help: "Optimistic write conflicts seen by the update loop.",
	})
	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "audit_delivery_failures_total",
		Help: "Audit webhook deliveries that exhausted their retries.",
	})
	updatesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge", Name: "updates_emitted_total",
		Help: "Wallet update broadcasts published.",
	})
)
