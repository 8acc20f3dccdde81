// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/lib/spool"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// DefaultRequestTimeout bounds one sync-protocol HTTP request when the
// config file does not set server.timeout.
const DefaultRequestTimeout = 30 * time.Second

// Config is the master configuration for the Warden sync service.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Server configures the sync server connection.
	Server ServerConfig `yaml:"server"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Push configures the push notification transports.
	Push PushConfig `yaml:"push"`

	// Spool configures the on-disk event spool.
	Spool SpoolConfig `yaml:"spool"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the fields that can be overridden per
// environment. Anything else is deployment-invariant.
type ConfigOverrides struct {
	Server *ServerConfig `yaml:"server,omitempty"`
	Broker *BrokerConfig `yaml:"broker,omitempty"`
	Tags   []string      `yaml:"tags,omitempty"`
}

// ServerConfig configures the sync server connection.
type ServerConfig struct {
	// URL is the sync server base URL. Required.
	URL string `yaml:"url"`

	// Timeout bounds a single sync-protocol request, as a Go duration
	// string. Default: 30s.
	Timeout string `yaml:"timeout"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for Warden state.
	// Default: /var/lib/warden
	Root string `yaml:"root"`

	// State is where runtime state is stored: the machine ID and the
	// machine identity key.
	State string `yaml:"state"`

	// Spool is where the privileged daemon leaves event batches for
	// upload.
	Spool string `yaml:"spool"`

	// MachineID is the file holding the persisted machine UUID.
	// Generated on first boot if absent.
	MachineID string `yaml:"machine_id"`

	// Identity is the machine identity key used to unseal credential
	// files. Generated on first boot if absent.
	Identity string `yaml:"identity"`

	// ControlSocket is the Unix socket on which the sync service
	// accepts control requests.
	// Default: /run/warden/syncservice.sock
	ControlSocket string `yaml:"control_socket"`

	// DaemonSocket is the Unix socket of the privileged daemon.
	// Default: /run/warden/wardend.sock
	DaemonSocket string `yaml:"daemon_socket"`
}

// PushConfig configures the push notification transports. At most one
// transport is active; when several are enabled the broker wins over
// FCM, and FCM over APNS.
type PushConfig struct {
	Broker BrokerConfig `yaml:"broker"`
	FCM    FCMConfig    `yaml:"fcm"`
	APNS   APNSConfig   `yaml:"apns"`

	// Tags are additional broker subjects to listen on, shared by a
	// fleet slice. The sync server may replace them at preflight.
	Tags []string `yaml:"tags"`
}

// BrokerConfig configures the message broker transport.
type BrokerConfig struct {
	// Enabled turns the broker transport on.
	Enabled bool `yaml:"enabled"`

	// Server is the broker URL, e.g. nats://push.example.com:4222.
	// Required when enabled.
	Server string `yaml:"server"`

	// CredentialsFile holds the operator-issued JWT and signing seed,
	// optionally sealed to the machine identity. When empty the broker
	// waits for credentials from the first preflight.
	CredentialsFile string `yaml:"credentials_file"`
}

// FCMConfig configures the Firebase Cloud Messaging transport.
type FCMConfig struct {
	// Enabled turns the FCM transport on.
	Enabled bool `yaml:"enabled"`

	// Project is the FCM project identifier.
	Project string `yaml:"project"`

	// Entity is the registration entity (sender ID).
	Entity string `yaml:"entity"`

	// APIKeyFile holds the API key, optionally sealed to the machine
	// identity.
	APIKeyFile string `yaml:"api_key_file"`
}

// APNSConfig configures the Apple Push Notification service transport.
// APNS tokens come from the privileged daemon, so there is nothing to
// configure beyond the enable.
type APNSConfig struct {
	// Enabled turns the APNS transport on.
	Enabled bool `yaml:"enabled"`
}

// SpoolConfig configures the on-disk event spool.
type SpoolConfig struct {
	// Compression selects the batch compression: none, lz4, or zstd.
	// Default: lz4.
	Compression string `yaml:"compression"`

	// BatchSize caps the number of events uploaded per request.
	// Default: 50.
	BatchSize int `yaml:"batch_size"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	defaultRoot := "/var/lib/warden"

	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Timeout: "30s",
		},
		Paths: PathsConfig{
			Root:          defaultRoot,
			State:         filepath.Join(defaultRoot, "state"),
			Spool:         filepath.Join(defaultRoot, "spool"),
			MachineID:     filepath.Join(defaultRoot, "state", "machine-id"),
			Identity:      filepath.Join(defaultRoot, "state", "machine-identity"),
			ControlSocket: "/run/warden/syncservice.sock",
			DaemonSocket:  "/run/warden/wardend.sock",
		},
		Spool: SpoolConfig{
			Compression: "lz4",
			BatchSize:   50,
		},
	}
}

// Load loads configuration from the WARDEN_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if WARDEN_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no
// hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.URL != "" {
			c.Server.URL = overrides.Server.URL
		}
		if overrides.Server.Timeout != "" {
			c.Server.Timeout = overrides.Server.Timeout
		}
	}

	if overrides.Broker != nil {
		// Enabled is a bool, so we always apply it from overrides.
		c.Push.Broker.Enabled = overrides.Broker.Enabled
		if overrides.Broker.Server != "" {
			c.Push.Broker.Server = overrides.Broker.Server
		}
		if overrides.Broker.CredentialsFile != "" {
			c.Push.Broker.CredentialsFile = overrides.Broker.CredentialsFile
		}
	}

	if len(overrides.Tags) > 0 {
		c.Push.Tags = overrides.Tags
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WARDEN_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WARDEN_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Spool = expandVars(c.Paths.Spool, vars)
	c.Paths.MachineID = expandVars(c.Paths.MachineID, vars)
	c.Paths.Identity = expandVars(c.Paths.Identity, vars)
	c.Paths.ControlSocket = expandVars(c.Paths.ControlSocket, vars)
	c.Paths.DaemonSocket = expandVars(c.Paths.DaemonSocket, vars)
	c.Push.Broker.CredentialsFile = expandVars(c.Push.Broker.CredentialsFile, vars)
	c.Push.FCM.APIKeyFile = expandVars(c.Push.FCM.APIKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
//
// Transport coordinate completeness (FCM project/entity/key, broker
// credentials) is deliberately not validated here: an incompletely
// provisioned transport falls through to the next one at selection
// time rather than failing the whole service.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if u, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server.url must be http or https, got %q", c.Server.URL))
	}

	if c.Server.Timeout != "" {
		if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("server.timeout: %w", err))
		}
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if c.Paths.Spool == "" {
		errs = append(errs, fmt.Errorf("paths.spool is required"))
	}
	if c.Paths.ControlSocket == "" {
		errs = append(errs, fmt.Errorf("paths.control_socket is required"))
	}

	if c.Push.Broker.Enabled && c.Push.Broker.Server == "" {
		errs = append(errs, fmt.Errorf("push.broker.server is required when the broker is enabled"))
	}

	if _, err := spool.ParseCompressionTag(c.Spool.Compression); err != nil {
		errs = append(errs, fmt.Errorf("spool.compression: %w", err))
	}
	if c.Spool.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("spool.batch_size must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RequestTimeout returns the parsed server.timeout, falling back to
// DefaultRequestTimeout when unset. Call Validate first; an unparseable
// value falls back rather than erroring here.
func (c *Config) RequestTimeout() time.Duration {
	if c.Server.Timeout == "" {
		return DefaultRequestTimeout
	}
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}

// CompressionTag returns the parsed spool.compression. Call Validate
// first; an unparseable value falls back to lz4.
func (c *Config) CompressionTag() spool.CompressionTag {
	tag, err := spool.ParseCompressionTag(c.Spool.Compression)
	if err != nil {
		return spool.CompressionLZ4
	}
	return tag
}

// EnsurePaths creates the configured state and spool directories if
// they don't exist. Socket directories are the init system's job.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Spool,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
