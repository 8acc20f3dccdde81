// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Warden
// binaries. It centralizes the one legitimate raw-stderr pattern that
// exists before the structured logger: fatal error reporting from
// main() when run() fails.
package process
