// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDaemon scripts RequestPushToken responses for the platform
// transport tests.
type fakeDaemon struct {
	tokens []string
	errs   []error
	calls  int
}

func (d *fakeDaemon) RequestPushToken(ctx context.Context) (string, error) {
	i := d.calls
	d.calls++
	var token string
	if i < len(d.tokens) {
		token = d.tokens[i]
	}
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	return token, err
}

func TestAPNSClientTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	daemon := &fakeDaemon{
		tokens: []string{"tok-first", "", "tok-third"},
		errs:   []error{nil, errors.New("daemon unavailable"), nil},
	}
	client := NewAPNSClient(daemon, discardLogger())

	if client.IsConnected() {
		t.Fatal("connected before any token")
	}
	if got := client.Token(); got != "" {
		t.Fatalf("Token() = %q before acquisition", got)
	}

	client.Start(ctx)
	if got := client.Token(); got != "tok-first" {
		t.Fatalf("Token() = %q after start, want tok-first", got)
	}
	if !client.IsConnected() {
		t.Fatal("not connected while holding a token")
	}

	// An empty announcement re-queries the daemon; the failure keeps
	// the token we already have.
	client.TokenChanged(ctx, "")
	if got := client.Token(); got != "tok-first" {
		t.Fatalf("Token() = %q after failed refresh, want tok-first kept", got)
	}

	// A concrete announcement replaces it outright, no daemon call.
	before := daemon.calls
	client.TokenChanged(ctx, "tok-new")
	if got := client.Token(); got != "tok-new" {
		t.Fatalf("Token() = %q, want tok-new", got)
	}
	if daemon.calls != before {
		t.Errorf("daemon queried %d extra times for a concrete token", daemon.calls-before)
	}
}

func TestAPNSClientStartFailureLeavesTokenless(t *testing.T) {
	daemon := &fakeDaemon{errs: []error{errors.New("no registration yet")}}
	client := NewAPNSClient(daemon, discardLogger())
	client.Start(context.Background())
	if client.IsConnected() {
		t.Fatal("connected despite token acquisition failure")
	}
}

func TestFCMClientRequiresCoordinates(t *testing.T) {
	cases := map[string]Config{
		"no project": {FCM: true, FCMEntity: "e", FCMAPIKey: "k"},
		"no entity":  {FCM: true, FCMProject: "p", FCMAPIKey: "k"},
		"no api key": {FCM: true, FCMProject: "p", FCMEntity: "e"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewFCMClient(cfg, discardLogger()); err == nil {
				t.Fatal("constructed without full coordinates")
			}
		})
	}
}

func TestFCMClientIgnoresEmptyToken(t *testing.T) {
	ctx := context.Background()
	client, err := NewFCMClient(Config{
		FCM: true, FCMProject: "p", FCMEntity: "e", FCMAPIKey: "k",
	}, discardLogger())
	if err != nil {
		t.Fatalf("constructing client: %v", err)
	}

	client.TokenChanged(ctx, "tok-1")
	if got := client.Token(); got != "tok-1" {
		t.Fatalf("Token() = %q, want tok-1", got)
	}
	client.TokenChanged(ctx, "")
	if got := client.Token(); got != "tok-1" {
		t.Fatalf("Token() = %q after empty announcement, want tok-1 kept", got)
	}
}

func TestClientIntervalDefaultsAndOverrides(t *testing.T) {
	client := NewAPNSClient(&fakeDaemon{}, discardLogger())

	if got := client.FullSyncInterval(); got != DefaultFullSyncInterval {
		t.Fatalf("FullSyncInterval() = %v, want default %v", got, DefaultFullSyncInterval)
	}
	if got := client.GlobalRuleSyncDeadline(); got != DefaultGlobalRuleSyncDeadline {
		t.Fatalf("GlobalRuleSyncDeadline() = %v, want default %v", got, DefaultGlobalRuleSyncDeadline)
	}

	client.ApplyPreflightState(SyncState{
		FullSyncInterval:       2 * time.Hour,
		GlobalRuleSyncDeadline: 5 * time.Minute,
	})
	if got := client.FullSyncInterval(); got != 2*time.Hour {
		t.Fatalf("FullSyncInterval() = %v after override, want 2h", got)
	}
	if got := client.GlobalRuleSyncDeadline(); got != 5*time.Minute {
		t.Fatalf("GlobalRuleSyncDeadline() = %v after override, want 5m", got)
	}

	// Zero-valued fields keep the current settings.
	client.ApplyPreflightState(SyncState{})
	if got := client.FullSyncInterval(); got != 2*time.Hour {
		t.Fatalf("FullSyncInterval() = %v after empty state, want 2h kept", got)
	}
	if got := client.GlobalRuleSyncDeadline(); got != 5*time.Minute {
		t.Fatalf("GlobalRuleSyncDeadline() = %v after empty state, want 5m kept", got)
	}
}
