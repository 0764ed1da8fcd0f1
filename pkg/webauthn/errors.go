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
	"errors"
	"fmt"
)

// Validation errors. Each one corresponds to a specific rejection reason in
// the registration or authentication state machine, so callers can branch on
// them with errors.Is while surfacing only a generic failure to the client.
var (
	// ErrMalformedResponse indicates the authenticator response could not be
	// decoded: bad JSON, bad base64url, truncated CBOR, or a structurally
	// invalid authenticator data block.
	ErrMalformedResponse = errors.New("webauthn: malformed authenticator response")

	// ErrCeremonyTypeMismatch indicates the client data type did not match
	// the expected ceremony ("webauthn.create" vs "webauthn.get").
	ErrCeremonyTypeMismatch = errors.New("webauthn: ceremony type mismatch")

	// ErrChallengeMismatch indicates the signed challenge did not match the
	// one issued for this ceremony, or no pending challenge was found.
	ErrChallengeMismatch = errors.New("webauthn: challenge mismatch")

	// ErrOriginMismatch indicates the client data origin is not one of the
	// configured relying party origins.
	ErrOriginMismatch = errors.New("webauthn: origin mismatch")

	// ErrRPIDMismatch indicates the rpIdHash in the authenticator data does
	// not match the configured relying party ID.
	ErrRPIDMismatch = errors.New("webauthn: relying party ID mismatch")

	// ErrUserPresenceRequired indicates the user presence flag was not set.
	ErrUserPresenceRequired = errors.New("webauthn: user presence flag not set")

	// ErrUserVerificationRequired indicates user verification was required by
	// policy but the user verification flag was not set.
	ErrUserVerificationRequired = errors.New("webauthn: user verification required")

	// ErrUnsupportedAttestationFormat indicates the attestation object used a
	// format this relying party has no verifier for.
	ErrUnsupportedAttestationFormat = errors.New("webauthn: unsupported attestation format")

	// ErrCredentialNotFound indicates no stored credential matches the
	// presented credential ID.
	ErrCredentialNotFound = errors.New("webauthn: credential not found")

	// ErrSignatureInvalid indicates the assertion signature did not verify
	// against the stored public key.
	ErrSignatureInvalid = errors.New("webauthn: invalid signature")

	// ErrCounterRegression indicates the presented signature counter did not
	// advance past the stored value, a possible cloned authenticator.
	ErrCounterRegression = errors.New("webauthn: signature counter regression detected")
)

// Store and lookup errors.
var (
	// ErrIdentityNotFound indicates the account resolver has no account for
	// the given identity.
	ErrIdentityNotFound = errors.New("webauthn: identity not found")

	// ErrDeleteFailed indicates the underlying storage refused or failed a
	// credential delete.
	ErrDeleteFailed = errors.New("webauthn: credential delete failed")

	// ErrChallengeNotFound indicates no pending challenge exists for the
	// request ID, either never issued, already consumed, or expired.
	ErrChallengeNotFound = errors.New("webauthn: challenge not found or expired")

	// ErrCredentialBound indicates an attempt to register a credential ID
	// that already belongs to a different identity.
	ErrCredentialBound = errors.New("webauthn: credential registered to another identity")

	// ErrNoCredentials indicates the identity has no registered credentials.
	ErrNoCredentials = errors.New("webauthn: no credentials registered")

	// ErrInvalidConfig indicates the relying party configuration failed
	// validation.
	ErrInvalidConfig = errors.New("webauthn: invalid configuration")
)

// Error wraps a webauthn failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("webauthn %s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is comparison against the wrapped sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// validationSentinels enumerates the rejection reasons a tampered or replayed
// ceremony response can trigger. Anything else is a system-side failure.
var validationSentinels = []error{
	ErrMalformedResponse,
	ErrCeremonyTypeMismatch,
	ErrChallengeMismatch,
	ErrOriginMismatch,
	ErrRPIDMismatch,
	ErrUserPresenceRequired,
	ErrUserVerificationRequired,
	ErrUnsupportedAttestationFormat,
	ErrCredentialNotFound,
	ErrSignatureInvalid,
	ErrCounterRegression,
	ErrChallengeNotFound,
}

// IsValidationError reports whether err is one of the ceremony validation
// failures, as opposed to a storage or configuration fault. HTTP handlers use
// this to decide between a 4xx rejection and a 5xx server error.
func IsValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ValidationErrorKind returns a short stable identifier for the validation
// failure class, suitable as a metric label. Returns "internal" for
// non-validation errors.
func ValidationErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrCeremonyTypeMismatch):
		return "ceremony_type_mismatch"
	case errors.Is(err, ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, ErrOriginMismatch):
		return "origin_mismatch"
	case errors.Is(err, ErrRPIDMismatch):
		return "rpid_mismatch"
	case errors.Is(err, ErrUserPresenceRequired):
		return "user_presence_required"
	case errors.Is(err, ErrUserVerificationRequired):
		return "user_verification_required"
	case errors.Is(err, ErrUnsupportedAttestationFormat):
		return "unsupported_attestation_format"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrCounterRegression):
		return "counter_regression"
	default:
		return "internal"
	}
}
