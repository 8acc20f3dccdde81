// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"sync/atomic"
	"time"
)

// Push transport defaults. They hold until a preflight response
// overrides them, and are deliberately long: a host with a working
// push channel does not need tight polling.
const (
	// DefaultFullSyncInterval is the push-transport full sync cadence.
	DefaultFullSyncInterval = 4 * time.Hour

	// DefaultGlobalRuleSyncDeadline bounds how long a rule change may
	// wait before the host picks it up. Push deliveries without an
	// explicit delay are jittered inside this window so a fleet-wide
	// notification does not stampede the server.
	DefaultGlobalRuleSyncDeadline = 610 * time.Second
)

// Client is a configured push transport. Implementations are safe for
// concurrent use; the token and interval accessors may be called from
// any goroutine.
//
// A client reports IsConnected exactly when it holds a non-empty
// token. For passive transports the token is the device token the
// server pushes through; for the broker transport it identifies the
// broker connection. A token, once held, survives transient upstream
// failures: it is replaced or cleared only by an explicit event
// (a new token arriving, a terminal connection close, Stop).
type Client interface {
	// Name identifies the transport in logs: "broker", "fcm", "apns".
	Name() string

	// Start begins token acquisition or connection maintenance.
	// Failures are logged and retried through later events (a
	// preflight delivering credentials, the daemon re-announcing a
	// token); they never fail the process.
	Start(ctx context.Context)

	// Stop tears the transport down. After Stop returns no further
	// replies or token changes are published. Idempotent.
	Stop()

	// Token returns the current push token, or "" when the transport
	// has none.
	Token() string

	// IsConnected reports whether the transport holds a token.
	IsConnected() bool

	// FullSyncInterval returns the interval between full syncs while
	// this transport is connected.
	FullSyncInterval() time.Duration

	// GlobalRuleSyncDeadline returns the window inside which an
	// undelayed push delivery schedules its sync.
	GlobalRuleSyncDeadline() time.Duration

	// ApplyPreflightState absorbs the push-relevant parts of a
	// preflight response. Zero-valued fields leave current state
	// untouched.
	ApplyPreflightState(state SyncState)

	// TokenChanged delivers a platform token event. Transports that
	// do not use platform tokens ignore it.
	TokenChanged(ctx context.Context, token string)
}

// Reconnector is implemented by transports that hold a live
// connection and can be asked to rebuild it.
type Reconnector interface {
	ForceReconnect()
}

// SyncState carries the push-relevant fields of a preflight response.
// The zero value of any field means "not provided, keep what you
// have".
type SyncState struct {
	FullSyncInterval       time.Duration
	GlobalRuleSyncDeadline time.Duration

	// Broker connection material. The server can move a host to a
	// different broker or rotate its credentials mid-deployment.
	BrokerServer string
	BrokerJWT    string
	BrokerSeed   string

	// Tags replace the broker tag subscriptions when non-empty.
	Tags []string
}

// DaemonConn is the slice of the host daemon surface the push layer
// needs: asking the platform for a device token. The sync service's
// daemon client implements it.
type DaemonConn interface {
	RequestPushToken(ctx context.Context) (string, error)
}

// SyncDelegate performs the sync runs the Scheduler decides on. All
// methods must return promptly; implementations enqueue work rather
// than sync inline.
type SyncDelegate interface {
	// TriggerFullSync enqueues a full sync now.
	TriggerFullSync()

	// TriggerFullSyncIn enqueues a full sync after the delay.
	TriggerFullSyncIn(delay time.Duration)

	// TriggerRuleSync enqueues a rule-only sync now.
	TriggerRuleSync()

	// TriggerRuleSyncIn enqueues a rule-only sync after the delay.
	TriggerRuleSyncIn(delay time.Duration)

	// RunPreflight enqueues a preflight-only run, used to announce a
	// fresh push token to the server.
	RunPreflight()

	// DaemonHandle returns the daemon connection, for transports that
	// need to ask the platform for tokens.
	DaemonHandle() DaemonConn

	// UploadEvent hands a spooled event batch to the sync pipeline.
	UploadEvent(path string) error
}

// clientState carries what every transport shares: the token and the
// preflight-adjustable intervals. The token is written from
// connection callbacks and read from whatever goroutine asks
// IsConnected, hence the atomics.
type clientState struct {
	token            atomic.Value // string
	fullSyncInterval atomic.Int64 // nanoseconds; 0 means default
	ruleSyncDeadline atomic.Int64 // nanoseconds; 0 means default
}

func (s *clientState) Token() string {
	v, _ := s.token.Load().(string)
	return v
}

func (s *clientState) setToken(token string) {
	s.token.Store(token)
}

func (s *clientState) IsConnected() bool {
	return s.Token() != ""
}

func (s *clientState) FullSyncInterval() time.Duration {
	if v := s.fullSyncInterval.Load(); v > 0 {
		return time.Duration(v)
	}
	return DefaultFullSyncInterval
}

func (s *clientState) GlobalRuleSyncDeadline() time.Duration {
	if v := s.ruleSyncDeadline.Load(); v > 0 {
		return time.Duration(v)
	}
	return DefaultGlobalRuleSyncDeadline
}

// applyIntervals absorbs the interval fields of a preflight response.
// Non-positive values keep the current setting.
func (s *clientState) applyIntervals(state SyncState) {
	if state.FullSyncInterval > 0 {
		s.fullSyncInterval.Store(int64(state.FullSyncInterval))
	}
	if state.GlobalRuleSyncDeadline > 0 {
		s.ruleSyncDeadline.Store(int64(state.GlobalRuleSyncDeadline))
	}
}
