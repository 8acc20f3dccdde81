// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the sync
// service's control socket, plus the client used to call it. The host
// daemon relays platform push events through this socket, and
// warden-pushctl drives it for operator actions; defining the wire
// types once keeps the three parties from mirroring structs.
package ipc
