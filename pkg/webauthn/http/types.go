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

package http

import (
	"encoding/json"

	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
)

// HeaderRequestID carries the ceremony request ID between the options and
// verify calls.
const HeaderRequestID = "X-Request-Id"

// Error codes returned in error responses. Validation failures share one
// generic code so response bodies never reveal which check rejected a
// forged ceremony.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeNotFound           = "not_found"
	ErrorCodeInternal           = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RegisterOptionsRequest starts a registration ceremony.
type RegisterOptionsRequest struct {
	Identity string `json:"identity"`
}

// RegisterOptionsResponse returns creation options plus the request ID the
// client must echo back on verify.
type RegisterOptionsResponse struct {
	RequestID string                        `json:"requestId"`
	PublicKey *webauthn.RegistrationOptions `json:"publicKey"`
}

// RegisterVerifyRequest completes a registration ceremony. Credential is the
// raw PublicKeyCredential JSON produced by navigator.credentials.create.
type RegisterVerifyRequest struct {
	RequestID  string          `json:"requestId"`
	Identity   string          `json:"identity"`
	Label      string          `json:"label,omitempty"`
	Credential json.RawMessage `json:"credential"`
}

// LoginOptionsRequest starts an authentication ceremony. Identity is
// optional; when empty the discoverable credential flow is used.
type LoginOptionsRequest struct {
	Identity string `json:"identity,omitempty"`
}

// LoginOptionsResponse returns request options plus the request ID.
type LoginOptionsResponse struct {
	RequestID string                          `json:"requestId"`
	PublicKey *webauthn.AuthenticationOptions `json:"publicKey"`
}

// LoginVerifyRequest completes an authentication ceremony. Credential is the
// raw PublicKeyCredential JSON produced by navigator.credentials.get.
type LoginVerifyRequest struct {
	RequestID  string          `json:"requestId"`
	Credential json.RawMessage `json:"credential"`
}

// LoginVerifyResponse reports the authenticated identity and the session
// token when the service has a token issuer configured.
type LoginVerifyResponse struct {
	Identity string `json:"identity"`
	Token    string `json:"token,omitempty"`
}

// CredentialSummary is the management view of a stored credential. The
// public key is never exposed.
type CredentialSummary struct {
	ID             string   `json:"id"`
	Label          string   `json:"label,omitempty"`
	Transports     []string `json:"transports,omitempty"`
	BackupEligible bool     `json:"backupEligible"`
	BackupState    bool     `json:"backupState"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	LastUsedAt     string   `json:"lastUsedAt,omitempty"`
}

// CredentialListResponse lists an identity's credentials.
type CredentialListResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// StatusResponse reports service liveness and relying party identity.
type StatusResponse struct {
	Status string `json:"status"`
	RPID   string `json:"rpId"`
}

func summarize(record *webauthn.CredentialRecord) CredentialSummary {
	summary := CredentialSummary{
		ID:             record.ID.String(),
		Label:          record.Extra.Label,
		Transports:     record.Transports,
		BackupEligible: record.BackupEligible,
		BackupState:    record.BackupState,
	}
	if !record.Extra.CreatedAt.IsZero() {
		summary.CreatedAt = record.Extra.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if !record.Extra.LastUsedAt.IsZero() {
		summary.LastUsedAt = record.Extra.LastUsedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return summary
}
