// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wardenhq/warden/lib/codec"
)

// defaultTimeout bounds a control socket exchange when the caller's
// context carries no deadline. Matches the server's per-connection
// deadline.
const defaultTimeout = 30 * time.Second

// Do performs one request/response exchange with the sync service's
// control socket. A non-OK response is returned as an error.
func Do(ctx context.Context, socketPath string, request Request) (*Response, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to sync service at %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("sending %s request: %w", request.Action, err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading %s response: %w", request.Action, err)
	}
	if !response.OK {
		return &response, fmt.Errorf("sync service rejected %s: %s", request.Action, response.Error)
	}
	return &response, nil
}
