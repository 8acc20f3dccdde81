// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package push keeps a host reachable for server-initiated sync.
//
// A deployment enables at most one push transport. The passive
// transports (APNSClient, FCMClient) hold an opaque device token that
// the sync server uses to wake the host through a platform channel;
// the broker transport (NATSClient) holds a live connection to a
// message broker and additionally answers structured commands
// addressed to the machine.
//
// Select picks the transport from configuration once at startup.
// Scheduler wraps whichever client was selected (possibly none) and
// owns the sync timers: the periodic full sync, the rule-sync
// deadline, and the one-shot "sync soon" armed by push deliveries.
// When a timer fires the scheduler calls into its SyncDelegate, the
// component that actually performs sync runs.
package push
