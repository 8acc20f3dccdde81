// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncservice talks to the Warden sync server and orchestrates
// sync runs for one host.
//
// A sync run is a fixed stage sequence against the server: preflight
// (report machine facts and the push token, receive policy and broker
// credentials), event upload (ship spooled event batches), rule
// download (page rules through the privileged daemon), and postflight
// (report counters). [Connection] implements the stages; [Manager]
// owns a serialized queue of runs and implements the delegate
// interface the push scheduler drives.
//
// The package also carries the two local sockets: [Server], the
// control socket over which the daemon and CLI reach the running
// service, and [DaemonClient], the service's client to the privileged
// daemon.
package syncservice
