// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O utilities for Warden.
//
// ReadResponse bounds every body read at MaxResponseSize so a
// misbehaving or hostile sync server cannot run the host out of
// memory. It is for API responses; event batch uploads stream the
// other way and never pass through it.
//
// IsExpectedCloseError classifies the errors a socket server sees when
// a peer hangs up or the listener shuts down mid-accept.
package netutil

import "io"

// MaxResponseSize is the bound on API response body reads: 64 MB. Rule
// downloads are the largest legitimate responses and arrive in cursored
// pages far below this; the limit exists for the pathological case, not
// to constrain normal operation.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads an API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
