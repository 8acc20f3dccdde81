// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool is the on-disk hand-off between the privileged daemon
// and the sync service. The daemon appends execution events as batch
// files; the sync service ships them to the server during the event
// upload stage and removes them on acknowledgement.
//
// A batch file is a CBOR envelope holding a compression tag, a keyed
// BLAKE3 digest of the uncompressed event payload, and the compressed
// payload itself. Files are written atomically (temp file, fsync,
// rename, directory sync) so a crash never leaves a reader with a
// truncated batch, and named by creation time so lexical order is
// arrival order.
package spool
