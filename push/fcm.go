// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"fmt"
	"log/slog"
)

// FCMClient is the vendor messaging transport. Like APNSClient it is
// passive: the token identifying this host's messaging registration
// arrives from outside (provisioning writes it, or the server relays
// a re-registration), and the client's whole job is to hold it for
// preflight to report.
type FCMClient struct {
	clientState

	project string
	entity  string
	apiKey  string
	logger  *slog.Logger
}

// NewFCMClient builds the vendor messaging transport. Project, entity
// and API key are the registration coordinates provisioning must
// supply; an incomplete set fails construction so the selector can
// fall through to the next transport.
func NewFCMClient(cfg Config, logger *slog.Logger) (*FCMClient, error) {
	if cfg.FCMProject == "" || cfg.FCMEntity == "" || cfg.FCMAPIKey == "" {
		return nil, fmt.Errorf("vendor messaging needs project, entity, and API key; got project=%q entity=%q",
			cfg.FCMProject, cfg.FCMEntity)
	}
	return &FCMClient{
		project: cfg.FCMProject,
		entity:  cfg.FCMEntity,
		apiKey:  cfg.FCMAPIKey,
		logger:  logger.With("transport", "fcm", "project", cfg.FCMProject),
	}, nil
}

func (c *FCMClient) Name() string { return "fcm" }

// Start has nothing to connect; the client waits for a token event.
func (c *FCMClient) Start(ctx context.Context) {
	if !c.IsConnected() {
		c.logger.Info("waiting for messaging token")
	}
}

// Stop is a no-op: there is no connection to tear down.
func (c *FCMClient) Stop() {}

// ApplyPreflightState absorbs interval overrides. The broker fields
// do not apply to this transport.
func (c *FCMClient) ApplyPreflightState(state SyncState) {
	c.applyIntervals(state)
}

// TokenChanged adopts a new messaging token. Empty announcements are
// ignored: losing a registration upstream does not invalidate the
// token we already reported, and the server finds out soon enough
// when its pushes stop landing.
func (c *FCMClient) TokenChanged(ctx context.Context, token string) {
	if token == "" {
		c.logger.Debug("ignoring empty messaging token announcement")
		return
	}
	c.setToken(token)
	c.logger.Info("messaging token updated")
}
