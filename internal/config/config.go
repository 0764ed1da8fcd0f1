// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the standalone server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "file".
	Backend string `yaml:"backend"`

	// Path is the data directory for the file backend.
	Path string `yaml:"path"`
}

// AccountConfig seeds the static account resolver.
type AccountConfig struct {
	Identity    string `yaml:"identity"`
	DisplayName string `yaml:"display_name"`
}

// AccountsConfig controls identity resolution for the standalone server.
type AccountsConfig struct {
	// Open accepts any identity. Development only; when false, only the
	// static list below resolves.
	Open bool `yaml:"open"`

	Static []AccountConfig `yaml:"static"`
}

// RateLimitConfig controls per-client rate limiting on ceremony endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TokenConfig controls JWT issuance after authentication.
type TokenConfig struct {
	Enabled bool `yaml:"enabled"`

	// KeyFile is a PEM-encoded private key. When empty and tokens are
	// enabled, an ephemeral ECDSA key is generated at startup.
	KeyFile string `yaml:"key_file"`

	Lifetime time.Duration `yaml:"lifetime"`
}

// Config is the root configuration for the standalone passkey server.
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	RelyingParty webauthn.Config `yaml:"relying_party"`
	Storage      StorageConfig   `yaml:"storage"`
	Accounts     AccountsConfig  `yaml:"accounts"`
	RateLimit    RateLimitConfig `yaml:"ratelimit"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Logging      LoggingConfig   `yaml:"logging"`
	Token        TokenConfig     `yaml:"token"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RelyingParty: webauthn.Config{
			RPID:           "localhost",
			RPDisplayName:  "Passkey Server",
			AllowLocalhost: true,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Accounts: AccountsConfig{
			Open: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	cfg.RelyingParty.SetDefaults()
	return cfg
}

// Load reads a YAML config file, layering it over defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.RelyingParty.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: file storage requires a path")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if !c.Accounts.Open && len(c.Accounts.Static) == 0 {
		return fmt.Errorf("config: accounts are closed but no static accounts are defined")
	}
	if err := c.RelyingParty.Validate(); err != nil {
		return err
	}
	return nil
}
