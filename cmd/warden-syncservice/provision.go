// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/lib/config"
	"github.com/wardenhq/warden/lib/hwinfo"
	"github.com/wardenhq/warden/lib/sealed"
	"github.com/wardenhq/warden/lib/secret"
	"github.com/wardenhq/warden/push"
	"github.com/wardenhq/warden/syncservice"
)

// loadOrCreateMachineID returns the stable identifier this host syncs
// under, generating one on first boot. The ID is a plain UUID file:
// it names the host to the sync server and scopes its push subjects,
// so it must survive reinstalls of the service but is not a secret.
func loadOrCreateMachineID(path string, logger *slog.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
		logger.Warn("machine ID file is empty, regenerating", "path", path)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading machine ID from %s: %w", path, err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing machine ID to %s: %w", path, err)
	}
	logger.Info("machine ID generated", "machine_id", id, "path", path)
	return id, nil
}

// loadOrGenerateIdentity loads the machine's unseal identity, creating
// one on first boot. The recipient lands next to it in a .pub file so
// operators can seal credentials to this host without touching the
// identity itself. Returns the identity and whether it was just
// generated.
func loadOrGenerateIdentity(path string, logger *slog.Logger) (*secret.Buffer, bool, error) {
	if _, err := os.Stat(path); err == nil {
		identity, err := sealed.LoadIdentity(path)
		if err != nil {
			return nil, false, err
		}
		return identity, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("checking identity file %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, false, err
	}

	// The identity is owner-only; the recipient is public data.
	if err := os.WriteFile(path, append(keypair.Identity.Bytes(), '\n'), 0600); err != nil {
		keypair.Close()
		return nil, false, fmt.Errorf("writing identity to %s: %w", path, err)
	}
	if err := os.WriteFile(path+".pub", []byte(keypair.Recipient+"\n"), 0644); err != nil {
		keypair.Close()
		return nil, false, fmt.Errorf("writing recipient to %s.pub: %w", path, err)
	}

	logger.Info("machine identity generated", "recipient", keypair.Recipient, "path", path)
	return keypair.Identity, true, nil
}

// buildPushConfig converts the service configuration into the
// transport snapshot the selector consumes. Credential files that are
// missing or unreadable degrade the transport rather than the
// process: the selector falls through to the next one, and a later
// preflight can still deliver broker material.
func buildPushConfig(cfg *config.Config, machineID string, identity *secret.Buffer, logger *slog.Logger) push.Config {
	pushCfg := push.Config{
		MachineID:    machineID,
		Broker:       cfg.Push.Broker.Enabled,
		BrokerServer: cfg.Push.Broker.Server,
		FCM:          cfg.Push.FCM.Enabled,
		FCMProject:   cfg.Push.FCM.Project,
		FCMEntity:    cfg.Push.FCM.Entity,
		APNS:         cfg.Push.APNS.Enabled,
		Tags:         cfg.Push.Tags,
	}

	if cfg.Push.Broker.Enabled && cfg.Push.Broker.CredentialsFile != "" {
		buf, err := sealed.ReadFile(cfg.Push.Broker.CredentialsFile, identity)
		if err != nil {
			logger.Warn("broker credentials unavailable",
				"path", cfg.Push.Broker.CredentialsFile, "error", err)
		} else {
			creds, err := push.ParseBrokerCredentials(buf.Bytes())
			buf.Close()
			if err != nil {
				logger.Warn("broker credentials unparseable",
					"path", cfg.Push.Broker.CredentialsFile, "error", err)
			} else {
				pushCfg.BrokerCredentials = creds
			}
		}
	}

	if cfg.Push.FCM.Enabled && cfg.Push.FCM.APIKeyFile != "" {
		buf, err := sealed.ReadFile(cfg.Push.FCM.APIKeyFile, identity)
		if err != nil {
			logger.Warn("vendor messaging API key unavailable",
				"path", cfg.Push.FCM.APIKeyFile, "error", err)
		} else {
			pushCfg.FCMAPIKey = buf.String()
			buf.Close()
		}
	}

	return pushCfg
}

// collectMachineInfo gathers the host inventory reported at
// preflight. Every field is best-effort: a probe that fails stays
// empty and the preflight body omits it.
func collectMachineInfo() syncservice.MachineInfo {
	probed := hwinfo.Probe()
	return syncservice.MachineInfo{
		Serial:          probed.Serial,
		Hostname:        probed.Hostname,
		OSVersion:       probed.OSVersion,
		OSBuild:         probed.OSBuild,
		ModelIdentifier: probed.ModelIdentifier,
	}
}
