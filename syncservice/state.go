// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"time"

	"github.com/wardenhq/warden/push"
)

// MachineInfo is the static host inventory reported at preflight.
type MachineInfo struct {
	Serial          string
	Hostname        string
	OSVersion       string
	OSBuild         string
	ModelIdentifier string
	PrimaryUser     string
}

// PreflightRequest is the body of the preflight stage. The push token
// is how the server learns where to send notifications for this host;
// it is resent on every preflight so a token rotation reaches the
// server at the next run.
type PreflightRequest struct {
	Serial          string `json:"serial"`
	Hostname        string `json:"hostname"`
	OSVersion       string `json:"os_version"`
	OSBuild         string `json:"os_build,omitempty"`
	ModelIdentifier string `json:"model_identifier,omitempty"`
	PrimaryUser     string `json:"primary_user,omitempty"`
	AgentVersion    string `json:"agent_version"`
	PushToken       string `json:"push_token,omitempty"`
}

// PreflightResponse carries the server's policy for this host. Absent
// fields keep the client's current settings.
type PreflightResponse struct {
	// FullSyncIntervalSeconds overrides the full sync cadence.
	FullSyncIntervalSeconds int `json:"full_sync_interval_seconds,omitempty"`

	// GlobalRuleSyncDeadlineSeconds bounds push-triggered rule sync
	// delays.
	GlobalRuleSyncDeadlineSeconds int `json:"global_rule_sync_deadline_seconds,omitempty"`

	// BatchSize is the server's preferred event count per upload.
	BatchSize int `json:"batch_size,omitempty"`

	// BackoffIntervalSeconds asks the client to run no syncs for this
	// long. Sent by overloaded servers.
	BackoffIntervalSeconds int `json:"backoff_interval_seconds,omitempty"`

	// Broker connection material. The server provisions hosts onto
	// the push broker, and may rotate credentials or move a host to a
	// different broker at any preflight.
	PushServer string   `json:"push_server,omitempty"`
	PushJWT    string   `json:"push_jwt,omitempty"`
	PushSeed   string   `json:"push_seed,omitempty"`
	PushTags   []string `json:"push_tags,omitempty"`
}

// SyncState converts the push-relevant parts of the response into the
// transport update the scheduler applies.
func (r *PreflightResponse) SyncState() push.SyncState {
	return push.SyncState{
		FullSyncInterval:       time.Duration(r.FullSyncIntervalSeconds) * time.Second,
		GlobalRuleSyncDeadline: time.Duration(r.GlobalRuleSyncDeadlineSeconds) * time.Second,
		BrokerServer:           r.PushServer,
		BrokerJWT:              r.PushJWT,
		BrokerSeed:             r.PushSeed,
		Tags:                   r.PushTags,
	}
}

// EventUploadResponse acknowledges an uploaded batch.
type EventUploadResponse struct {
	EventsReceived int `json:"events_received"`
}

// RuleDownloadRequest asks for a page of rules. An empty cursor starts
// from the beginning; subsequent requests echo the cursor of the
// previous response.
type RuleDownloadRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// Rule is one policy rule from the server, passed through to the
// privileged daemon. The sync service does not interpret policies; it
// is a courier.
type Rule struct {
	Identifier string `json:"identifier"`
	Policy     string `json:"policy"`
	RuleType   string `json:"rule_type"`
	CustomMsg  string `json:"custom_msg,omitempty"`
	CustomURL  string `json:"custom_url,omitempty"`
}

// RuleDownloadResponse is one page of rules. A non-empty cursor means
// more pages follow.
type RuleDownloadResponse struct {
	Rules  []Rule `json:"rules"`
	Cursor string `json:"cursor,omitempty"`
}

// PostflightRequest closes a sync run with its outcome counters.
type PostflightRequest struct {
	SyncKind       string `json:"sync_kind"`
	RulesReceived  int    `json:"rules_received"`
	RulesProcessed int    `json:"rules_processed"`
}
