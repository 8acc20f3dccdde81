// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"errors"
	"fmt"
	"time"
)

// CommandKind discriminates the broker command union. The set is
// closed: a request whose kind is not listed here is answered with an
// error, never silently dropped.
type CommandKind string

const (
	// CommandKindPing checks machine liveness. It carries no
	// parameters and always succeeds.
	CommandKindPing CommandKind = "ping"
)

// MaxCommandAge bounds the accepted skew between a command's
// issued_at stamp and the machine clock, in both directions. Replays
// of captured broker traffic and badly skewed operator clocks fail
// the same check.
const MaxCommandAge = 5 * time.Minute

// PingRequest is the (empty) ping payload.
type PingRequest struct{}

// PingResponse is the (empty) ping result.
type PingResponse struct{}

// CommandRequest is the JSON envelope delivered on a machine's
// command subject. Exactly one kind-specific payload field is set,
// matching Kind.
type CommandRequest struct {
	Kind      CommandKind `json:"kind"`
	RequestID string      `json:"request_id,omitempty"`

	// IssuedAt is the sender's clock at issue time, in Unix seconds.
	// Commands older or newer than MaxCommandAge are rejected before
	// dispatch.
	IssuedAt int64 `json:"issued_at"`

	Ping *PingRequest `json:"ping,omitempty"`
}

// CommandResult states whether a command ran.
type CommandResult string

const (
	CommandResultSuccessful CommandResult = "successful"
	CommandResultError      CommandResult = "error"
)

// CommandResponse is the JSON envelope published on a command's reply
// subject. Error carries detail only when Result is error; the
// kind-specific payload field is set only on success.
type CommandResponse struct {
	Result    CommandResult `json:"result"`
	RequestID string        `json:"request_id,omitempty"`
	Error     string        `json:"error,omitempty"`

	Ping *PingResponse `json:"ping,omitempty"`
}

// DispatchCommand executes a decoded command and builds its response.
// It is a pure request-to-response function: transport concerns
// (decode failures, freshness, reply publication) stay with the
// caller. The returned response always echoes the request ID.
func DispatchCommand(request CommandRequest) CommandResponse {
	switch request.Kind {
	case CommandKindPing:
		return CommandResponse{
			Result:    CommandResultSuccessful,
			RequestID: request.RequestID,
			Ping:      &PingResponse{},
		}
	default:
		// Unset kinds land here too; an envelope without a kind is
		// as unanswerable as one with a kind we have never heard of.
		return CommandResponse{
			Result:    CommandResultError,
			RequestID: request.RequestID,
			Error:     fmt.Sprintf("unknown command kind %q", request.Kind),
		}
	}
}

// checkCommandFreshness rejects commands whose issue stamp is missing
// or outside MaxCommandAge of now, in either direction.
func checkCommandFreshness(request CommandRequest, now time.Time) error {
	if request.IssuedAt == 0 {
		return errors.New("command has no issued_at stamp")
	}
	age := now.Sub(time.Unix(request.IssuedAt, 0))
	if age > MaxCommandAge {
		return fmt.Errorf("command issued %s ago exceeds the %s limit",
			age.Truncate(time.Second), MaxCommandAge)
	}
	if age < -MaxCommandAge {
		return fmt.Errorf("command issued %s in the future exceeds the %s limit",
			(-age).Truncate(time.Second), MaxCommandAge)
	}
	return nil
}
