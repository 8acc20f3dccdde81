// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"log/slog"
)

// APNSClient is the platform notification transport. The operating
// system owns the registration: the host daemon asks the platform for
// a device token and forwards it to us, either in response to
// RequestPushToken or spontaneously when the platform rotates it. The
// client itself never talks to the notification service; it just
// holds the token so preflight can report it.
type APNSClient struct {
	clientState

	daemon DaemonConn
	logger *slog.Logger
}

// NewAPNSClient builds the platform transport on the given daemon
// connection.
func NewAPNSClient(daemon DaemonConn, logger *slog.Logger) *APNSClient {
	return &APNSClient{
		daemon: daemon,
		logger: logger.With("transport", "apns"),
	}
}

func (c *APNSClient) Name() string { return "apns" }

// Start requests the device token from the daemon. A failure leaves
// the client tokenless; the daemon announces the token later through
// TokenChanged once registration completes.
func (c *APNSClient) Start(ctx context.Context) {
	c.refreshToken(ctx)
}

// Stop is a no-op: there is no connection to tear down.
func (c *APNSClient) Stop() {}

// ApplyPreflightState absorbs interval overrides. The broker fields
// do not apply to this transport.
func (c *APNSClient) ApplyPreflightState(state SyncState) {
	c.applyIntervals(state)
}

// TokenChanged adopts a token the daemon announced. An empty token
// means the daemon noticed a registration change without knowing the
// replacement, so the client asks for the current one; a failure
// there keeps whatever token it already holds.
func (c *APNSClient) TokenChanged(ctx context.Context, token string) {
	if token != "" {
		c.setToken(token)
		c.logger.Info("device token updated")
		return
	}
	c.refreshToken(ctx)
}

func (c *APNSClient) refreshToken(ctx context.Context) {
	token, err := c.daemon.RequestPushToken(ctx)
	if err != nil {
		c.logger.Warn("requesting device token from daemon", "error", err)
		return
	}
	if token == "" {
		c.logger.Info("daemon has no device token yet")
		return
	}
	c.setToken(token)
	c.logger.Info("device token acquired")
}
