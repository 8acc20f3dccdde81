// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wardenhq/warden/lib/codec"
)

// Privileged daemon actions. The daemon owns the policy store and the
// platform notification registration; the sync service reaches both
// through its socket.
const (
	daemonActionPushToken        = "push-token"
	daemonActionApplyRules       = "apply-rules"
	daemonActionRuleSyncComplete = "rule-sync-complete"
)

// daemonExchangeTimeout bounds one daemon socket exchange when the
// caller's context carries no deadline. Rule application can touch the
// policy database, so this is looser than a token query needs.
const daemonExchangeTimeout = 30 * time.Second

// daemonRequest is one CBOR request to the privileged daemon.
type daemonRequest struct {
	Action string `cbor:"action"`
	Rules  []Rule `cbor:"rules,omitempty"`
}

// daemonResponse is the daemon's CBOR reply.
type daemonResponse struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
	Token string `cbor:"token,omitempty"`
}

// DaemonClient talks to the privileged daemon over its Unix socket,
// one request/response exchange per connection. It is the sync
// service's half of the daemon contract: the daemon side lives in the
// wardend tree.
type DaemonClient struct {
	socketPath string
	logger     *slog.Logger
}

// NewDaemonClient creates a client for the daemon socket. The socket
// does not need to exist yet; every exchange dials fresh.
func NewDaemonClient(socketPath string, logger *slog.Logger) *DaemonClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonClient{socketPath: socketPath, logger: logger}
}

// exchange sends one request to the daemon and reads the response.
func (d *DaemonClient) exchange(ctx context.Context, request daemonRequest) (*daemonResponse, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", d.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", d.socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(daemonExchangeTimeout)
	}
	conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("sending %s request: %w", request.Action, err)
	}

	var response daemonResponse
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading %s response: %w", request.Action, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("daemon rejected %s: %s", request.Action, response.Error)
	}
	return &response, nil
}

// RequestPushToken asks the daemon for the platform's current device
// token. An empty token with a nil error means the platform has not
// issued one yet.
func (d *DaemonClient) RequestPushToken(ctx context.Context) (string, error) {
	response, err := d.exchange(ctx, daemonRequest{Action: daemonActionPushToken})
	if err != nil {
		return "", err
	}
	return response.Token, nil
}

// ApplyRules hands one page of downloaded rules to the daemon's policy
// store.
func (d *DaemonClient) ApplyRules(ctx context.Context, rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	_, err := d.exchange(ctx, daemonRequest{Action: daemonActionApplyRules, Rules: rules})
	return err
}

// RuleSyncComplete tells the daemon a rule download finished, so it
// can release decisions it was holding for pending rule updates.
func (d *DaemonClient) RuleSyncComplete(ctx context.Context) error {
	_, err := d.exchange(ctx, daemonRequest{Action: daemonActionRuleSyncComplete})
	return err
}
