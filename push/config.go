// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"fmt"
	"strings"
)

// BrokerCredentials authenticate a machine to the message broker.
// They are decentralized JWT credentials: the JWT names the account
// and permissions, the seed is the NKey the client signs the
// connection challenge with. Either or both may be empty at startup;
// the preflight response can deliver them later.
type BrokerCredentials struct {
	JWT  string
	Seed string
}

// ParseBrokerCredentials extracts the JWT and seed from a credentials
// file body. It accepts the decorated format operators get from their
// account tooling (BEGIN/END blocks around each value) as well as a
// bare file with the JWT on one line and the seed on another. The JWT
// is the first token shaped like one; the seed is the first user NKey
// seed (an "SU" line).
func ParseBrokerCredentials(data []byte) (BrokerCredentials, error) {
	var creds BrokerCredentials

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case creds.JWT == "" && strings.HasPrefix(line, "eyJ") && strings.Count(line, ".") == 2:
			creds.JWT = line
		case creds.Seed == "" && strings.HasPrefix(line, "SU"):
			creds.Seed = line
		}
	}

	if creds.JWT == "" {
		return BrokerCredentials{}, fmt.Errorf("credentials contain no user JWT")
	}
	if creds.Seed == "" {
		return BrokerCredentials{}, fmt.Errorf("credentials contain no user seed")
	}
	return creds, nil
}

// Config is the transport snapshot handed to Select at startup. It is
// read once; later adjustments arrive through SyncState, never by
// mutating a Config the selector already consumed.
type Config struct {
	// MachineID scopes the broker command subject. Required when
	// Broker is enabled.
	MachineID string

	// Broker enables the NATS transport.
	Broker            bool
	BrokerServer      string
	BrokerCredentials BrokerCredentials

	// FCM enables the vendor messaging transport. Project, entity,
	// and API key must all be present for the client to construct.
	FCM        bool
	FCMProject string
	FCMEntity  string
	FCMAPIKey  string

	// APNS enables the platform notification transport. The device
	// token comes from the host daemon, so the transport needs a
	// daemon connection and nothing else.
	APNS bool

	// Tags are additional broker subjects to listen on, beyond the
	// per-machine subject. The preflight response may replace them.
	Tags []string
}
