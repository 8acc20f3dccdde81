// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"log/slog"

	"github.com/wardenhq/warden/lib/clock"
)

// SelectorOptions carries the runtime pieces transport constructors
// need. Zero fields get defaults, except Daemon, whose absence rules
// the platform transport out.
type SelectorOptions struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// Daemon is the host daemon connection the platform transport
	// acquires device tokens through.
	Daemon DaemonConn
}

func (o SelectorOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Select picks the push transport for this deployment. Precedence is
// fixed: broker, then vendor messaging, then platform notifications.
// An enabled transport whose requirements are not met is logged and
// skipped, so a half-provisioned high-precedence transport degrades
// to the next one rather than to a crash. When nothing is enabled or
// constructible, Select returns nil and the host runs on its polling
// cadence alone.
func Select(cfg Config, opts SelectorOptions) Client {
	logger := opts.logger()

	if cfg.Broker {
		client, err := NewNATSClient(cfg, opts.Clock, logger)
		if err == nil {
			return client
		}
		logger.Warn("broker transport unavailable", "error", err)
	}

	if cfg.FCM {
		client, err := NewFCMClient(cfg, logger)
		if err == nil {
			return client
		}
		logger.Warn("vendor messaging transport unavailable", "error", err)
	}

	if cfg.APNS {
		if opts.Daemon != nil {
			return NewAPNSClient(opts.Daemon, logger)
		}
		logger.Warn("platform notification transport unavailable", "error", "no daemon connection")
	}

	return nil
}
