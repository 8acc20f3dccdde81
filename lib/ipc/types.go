// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// Control socket actions.
const (
	// ActionStatus reports the sync service's push and sync state.
	ActionStatus = "status"

	// ActionSyncNow asks for a sync run, optionally delayed.
	ActionSyncNow = "sync-now"

	// ActionTokenChanged announces a platform push token. The host
	// daemon sends this when the operating system issues or rotates
	// the device token.
	ActionTokenChanged = "token-changed"

	// ActionPlatformMessage relays the payload of a platform push
	// notification to the sync scheduler.
	ActionPlatformMessage = "platform-message"

	// ActionReconnect forces the push transport to rebuild its
	// connection.
	ActionReconnect = "reconnect"

	// ActionUploadEvent ships one spooled batch immediately, outside
	// the sync queue. The host daemon sends this when an event should
	// reach the server without waiting for the next sync.
	ActionUploadEvent = "upload-event"
)

// Sync kinds accepted by ActionSyncNow.
const (
	SyncKindFull  = "full"
	SyncKindRules = "rules"
)

// Request is a CBOR-encoded request to the sync service's control
// socket. One request/response exchange per connection.
type Request struct {
	// Action is the request type: "status", "sync-now",
	// "token-changed", "platform-message", "reconnect", or
	// "upload-event".
	Action string `cbor:"action"`

	// Token is the platform push token (for "token-changed"). Empty
	// means the token was invalidated and the service should ask the
	// daemon for the current one.
	Token string `cbor:"token,omitempty"`

	// Payload is the raw platform notification payload (for
	// "platform-message"). Carried as opaque bytes; the scheduler
	// owns its interpretation.
	Payload []byte `cbor:"payload,omitempty"`

	// Kind selects which sync to run (for "sync-now"): "full" or
	// "rules". Empty means full.
	Kind string `cbor:"kind,omitempty"`

	// DelaySeconds defers the requested sync (for "sync-now"). Zero
	// runs it immediately.
	DelaySeconds int `cbor:"delay_seconds,omitempty"`

	// Path is the spooled batch file to ship (for "upload-event").
	Path string `cbor:"path,omitempty"`
}

// Response is a CBOR-encoded response from the sync service.
type Response struct {
	// OK indicates whether the request was accepted.
	OK bool `cbor:"ok"`

	// Error contains the failure message if OK is false.
	Error string `cbor:"error,omitempty"`

	// Status carries the service state for the "status" action.
	Status *Status `cbor:"status,omitempty"`
}

// Status is the sync service state returned by the "status" action.
type Status struct {
	// MachineID identifies this host to the sync server.
	MachineID string `cbor:"machine_id"`

	// Transport names the selected push transport: "broker", "fcm",
	// "apns", or "none".
	Transport string `cbor:"transport"`

	// Connected reports whether the transport holds a push token.
	Connected bool `cbor:"connected"`

	// FullSyncIntervalSeconds is the full sync cadence in effect.
	FullSyncIntervalSeconds int64 `cbor:"full_sync_interval_seconds"`

	// RuleSyncDeadlineSeconds bounds push-triggered rule sync delays.
	RuleSyncDeadlineSeconds int64 `cbor:"rule_sync_deadline_seconds"`

	// LastSyncUnix is the wall-clock second of the last successful
	// sync run, zero if none has completed since startup.
	LastSyncUnix int64 `cbor:"last_sync_unix,omitempty"`

	// PendingSyncs counts sync requests queued but not yet run.
	PendingSyncs int `cbor:"pending_syncs"`

	// SpooledBatches counts event batches waiting for upload.
	SpooledBatches int `cbor:"spooled_batches"`

	// BatchSize is the advisory event count per upload, as last set
	// by the sync server.
	BatchSize int `cbor:"batch_size,omitempty"`
}
