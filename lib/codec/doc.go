// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds Warden's shared CBOR configuration.
//
// Warden speaks two serialization formats with a clear boundary: JSON
// for external surfaces (the sync protocol, broker command payloads,
// CLI output) and CBOR for internal ones (control-socket and daemon
// IPC requests, spool envelopes on disk). Every internal protocol
// encodes through this package so all of them encode identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces the same bytes, which keeps spool
// digests stable.
//
// Tag convention: types only ever serialized as CBOR carry `cbor`
// struct tags; types that also cross a JSON surface carry `json` tags
// alone (fxamacker/cbor reads them as fallback). Never both on one
// field.
package codec
