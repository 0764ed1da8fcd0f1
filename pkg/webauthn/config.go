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
	"fmt"
	"net"
	"net/url"
	"time"
)

// User verification requirements.
const (
	VerificationRequired    = "required"
	VerificationPreferred   = "preferred"
	VerificationDiscouraged = "discouraged"
)

// Resident key requirements.
const (
	ResidentKeyRequired    = "required"
	ResidentKeyPreferred   = "preferred"
	ResidentKeyDiscouraged = "discouraged"
)

// Authenticator attachment modalities.
const (
	AttachmentPlatform      = "platform"
	AttachmentCrossPlatform = "cross-platform"
)

// Default ceremony timings.
const (
	DefaultCeremonyTimeout = 30 * time.Second
	DefaultChallengeTTL    = 60 * time.Second
)

// Config holds the relying party configuration.
type Config struct {
	// RPID is the relying party identifier, a registrable domain suffix of
	// the origins (e.g. "example.com").
	RPID string `yaml:"rp_id" json:"rp_id" mapstructure:"rp_id"`

	// RPDisplayName is shown to the user in authenticator prompts.
	RPDisplayName string `yaml:"rp_display_name" json:"rp_display_name" mapstructure:"rp_display_name"`

	// RPOrigins lists the exact web origins allowed to complete ceremonies.
	RPOrigins []string `yaml:"rp_origins" json:"rp_origins" mapstructure:"rp_origins"`

	// AllowLocalhost additionally accepts localhost and loopback origins on
	// any port. Development convenience, keep off in production.
	AllowLocalhost bool `yaml:"allow_localhost" json:"allow_localhost" mapstructure:"allow_localhost"`

	// CeremonyTimeout is the timeout hint sent to the client in ceremony
	// options. Defaults to 30s.
	CeremonyTimeout time.Duration `yaml:"ceremony_timeout" json:"ceremony_timeout" mapstructure:"ceremony_timeout"`

	// ChallengeTTL bounds how long an issued challenge stays redeemable.
	// Defaults to 60s.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// UserVerification is the user verification policy (required, preferred,
	// discouraged). Defaults to preferred.
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// ResidentKey is the resident key requirement sent during registration.
	// Defaults to required so registered passkeys are discoverable.
	ResidentKey string `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// AuthenticatorAttachment optionally restricts authenticator attachment
	// (platform, cross-platform). Empty imposes no restriction.
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment" mapstructure:"authenticator_attachment"`
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.CeremonyTimeout == 0 {
		c.CeremonyTimeout = DefaultCeremonyTimeout
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.UserVerification == "" {
		c.UserVerification = VerificationPreferred
	}
	if c.ResidentKey == "" {
		c.ResidentKey = ResidentKeyRequired
	}
}

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("%w: rp_id is required", ErrInvalidConfig)
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("%w: rp_display_name is required", ErrInvalidConfig)
	}
	if len(c.RPOrigins) == 0 && !c.AllowLocalhost {
		return fmt.Errorf("%w: at least one rp_origin is required", ErrInvalidConfig)
	}
	for _, origin := range c.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid origin %q", ErrInvalidConfig, origin)
		}
	}
	switch c.UserVerification {
	case VerificationRequired, VerificationPreferred, VerificationDiscouraged:
	default:
		return fmt.Errorf("%w: invalid user_verification %q", ErrInvalidConfig, c.UserVerification)
	}
	switch c.ResidentKey {
	case ResidentKeyRequired, ResidentKeyPreferred, ResidentKeyDiscouraged:
	default:
		return fmt.Errorf("%w: invalid resident_key %q", ErrInvalidConfig, c.ResidentKey)
	}
	switch c.AuthenticatorAttachment {
	case "", AttachmentPlatform, AttachmentCrossPlatform:
	default:
		return fmt.Errorf("%w: invalid authenticator_attachment %q", ErrInvalidConfig, c.AuthenticatorAttachment)
	}
	return nil
}

// OriginAllowed reports whether a client data origin is acceptable: an exact
// match against RPOrigins, or a loopback origin when AllowLocalhost is set.
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.RPOrigins {
		if origin == allowed {
			return true
		}
	}
	if !c.AllowLocalhost {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
