// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Warden packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap channel
// operations with a wall-clock safety valve so a broken test hangs for
// a bounded time instead of forever. They are the only sanctioned
// direct use of time.After in the test suite; everything else goes
// through lib/clock.
//
// [SocketDir] creates a short-pathed temporary directory for Unix
// domain sockets, which are limited to 108-byte paths (sun_path in
// sockaddr_un) that nested test temp dirs routinely exceed.
//
// All helpers fail the test via Fatalf rather than returning errors;
// setup failures are not recoverable.
package testutil
