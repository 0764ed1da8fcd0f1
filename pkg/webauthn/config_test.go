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

package webauthn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 30*time.Second, cfg.CeremonyTimeout)
	assert.Equal(t, 60*time.Second, cfg.ChallengeTTL)
	assert.Equal(t, VerificationPreferred, cfg.UserVerification)
	assert.Equal(t, ResidentKeyRequired, cfg.ResidentKey)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rp_id", func(c *Config) { c.RPID = "" }},
		{"missing display name", func(c *Config) { c.RPDisplayName = "" }},
		{"no origins", func(c *Config) { c.RPOrigins = nil }},
		{"bad origin", func(c *Config) { c.RPOrigins = []string{"not a url"} }},
		{"bad verification", func(c *Config) { c.UserVerification = "sometimes" }},
		{"bad resident key", func(c *Config) { c.ResidentKey = "maybe" }},
		{"bad attachment", func(c *Config) { c.AuthenticatorAttachment = "cloud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigLocalhostOnlyIsValid(t *testing.T) {
	cfg := &Config{
		RPID:           "localhost",
		RPDisplayName:  "Dev",
		AllowLocalhost: true,
	}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
}

func TestOriginAllowed(t *testing.T) {
	cfg := testConfig()

	assert.True(t, cfg.OriginAllowed("https://example.com"))
	assert.False(t, cfg.OriginAllowed("https://example.com:8443"))
	assert.False(t, cfg.OriginAllowed("https://evil.example.net"))
	assert.False(t, cfg.OriginAllowed("http://localhost:3000"))
}

func TestOriginAllowedLocalhost(t *testing.T) {
	cfg := testConfig()
	cfg.AllowLocalhost = true

	assert.True(t, cfg.OriginAllowed("http://localhost:3000"))
	assert.True(t, cfg.OriginAllowed("http://localhost"))
	assert.True(t, cfg.OriginAllowed("https://127.0.0.1:8443"))
	assert.False(t, cfg.OriginAllowed("ftp://localhost"))
	assert.False(t, cfg.OriginAllowed("https://evil.example.net"))
	assert.False(t, cfg.OriginAllowed("http://192.168.1.10"))
}
