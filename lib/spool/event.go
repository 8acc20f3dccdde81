// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package spool

// Event is one recorded execution decision. The daemon fills these
// in; the sync service forwards them verbatim, so the json tags here
// are the upload wire format (CBOR spool storage reads the same tags).
type Event struct {
	// UUID identifies the event across retries. The server dedupes
	// on it.
	UUID string `json:"uuid"`

	// Timestamp is when the decision was made, unix seconds.
	Timestamp int64 `json:"timestamp"`

	// Decision is the verdict, e.g. "allow_binary", "block_binary",
	// "allow_unknown", "block_unknown".
	Decision string `json:"decision"`

	// FilePath is the executable path as seen at decision time.
	FilePath string `json:"file_path"`

	// FileSHA256 is the hex digest of the executable contents.
	FileSHA256 string `json:"file_sha256"`

	// SigningID and TeamID identify the signer when the binary is
	// signed.
	SigningID string `json:"signing_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`

	// PID and PPID of the process that triggered the decision.
	PID  int `json:"pid"`
	PPID int `json:"ppid"`

	// ExecutingUser is the username the process ran as.
	ExecutingUser string `json:"executing_user,omitempty"`
}
