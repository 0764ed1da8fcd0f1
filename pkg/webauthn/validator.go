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
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"
)

// Validator checks authenticator responses against relying party policy. It
// is stateless and never persists anything; the caller owns challenge
// consumption and credential storage.
type Validator struct {
	config *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// AssertionResult is the outcome of a successfully validated assertion. The
// caller must apply NewSignCount and the flag updates to the stored record.
type AssertionResult struct {
	// Record is the credential the assertion was validated against.
	Record *CredentialRecord

	// NewSignCount is the counter value from the assertion. Zero means the
	// authenticator does not track counters; the stored value must be left
	// untouched.
	NewSignCount uint32

	// UserVerified reports whether the UV flag was set on this assertion.
	UserVerified bool

	// BackupState is the BS flag from this assertion.
	BackupState bool

	// Origin is the client data origin the assertion came from.
	Origin string
}

// VerifyRegistration validates a parsed registration response against the
// issued challenge. On success it returns a credential record with every
// field populated except OwnerIdentity, which the caller binds before
// saving.
//
// Check order: ceremony type, challenge, origin, rpIdHash,
// presence/verification flags, attestation format, credential data,
// public key.
func (v *Validator) VerifyRegistration(ccr *CredentialCreationResponse, expectedChallenge []byte) (*CredentialRecord, error) {
	const op = "verify registration"

	clientData, err := parseClientData(ccr.Response.ClientDataJSON)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if clientData.Type != ceremonyCreate {
		return nil, wrapError(op, fmt.Errorf("%w: got %q, want %q",
			ErrCeremonyTypeMismatch, clientData.Type, ceremonyCreate))
	}
	if !challengeMatches(clientData.Challenge, expectedChallenge) {
		return nil, wrapError(op, ErrChallengeMismatch)
	}
	if !v.config.OriginAllowed(clientData.Origin) {
		return nil, wrapError(op, fmt.Errorf("%w: %q", ErrOriginMismatch, clientData.Origin))
	}

	attObj, rawAuthData, err := parseAttestationObject(ccr.Response.AttestationObject)
	if err != nil {
		return nil, wrapError(op, err)
	}
	authData, err := parseAuthenticatorData(rawAuthData)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if err := v.checkRPIDHash(authData.RPIDHash); err != nil {
		return nil, wrapError(op, err)
	}
	if err := v.checkFlags(authData.Flags); err != nil {
		return nil, wrapError(op, err)
	}

	if attObj.Format != AttestationFormatNone {
		return nil, wrapError(op, fmt.Errorf("%w: %q", ErrUnsupportedAttestationFormat, attObj.Format))
	}
	// The "none" format requires an empty attestation statement.
	if len(attObj.AttStatement) != 0 {
		return nil, wrapError(op, fmt.Errorf("%w: non-empty statement for format none", ErrMalformedResponse))
	}

	if !authData.Flags.AttestedCredential() {
		return nil, wrapError(op, fmt.Errorf("%w: attested credential data flag not set", ErrMalformedResponse))
	}
	if len(authData.CredentialID) == 0 {
		return nil, wrapError(op, fmt.Errorf("%w: empty credential ID", ErrMalformedResponse))
	}
	if !bytes.Equal(authData.CredentialID, ccr.RawID) {
		return nil, wrapError(op, fmt.Errorf("%w: credential ID does not match rawId", ErrMalformedResponse))
	}

	// Reject unverifiable keys now rather than at first login.
	if _, err := parseCredentialPublicKey(authData.CredentialPublicKey); err != nil {
		return nil, wrapError(op, err)
	}

	now := time.Now().UTC()
	return &CredentialRecord{
		ID:              authData.CredentialID,
		Type:            CredentialTypePublicKey,
		PublicKey:       authData.CredentialPublicKey,
		SignCount:       authData.SignCount,
		Transports:      ccr.Response.Transports,
		UVInitialized:   authData.Flags.UserVerified(),
		BackupEligible:  authData.Flags.BackupEligible(),
		BackupState:     authData.Flags.BackupState(),
		AttestationType: attObj.Format,
		TrustPath:       EmptyTrustPath(),
		Extra: Extra{
			CreatedAt:  now,
			LastOrigin: clientData.Origin,
		},
	}, nil
}

// VerifyAssertion validates a parsed assertion against the issued challenge
// and the stored credential record. On success the caller applies the
// returned counter and flag state via the repository.
//
// Check order: ceremony type, challenge, origin, rpIdHash, flags, signature,
// counter.
func (v *Validator) VerifyAssertion(car *CredentialAssertionResponse, expectedChallenge []byte, record *CredentialRecord) (*AssertionResult, error) {
	const op = "verify assertion"

	clientData, err := parseClientData(car.Response.ClientDataJSON)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if clientData.Type != ceremonyAssert {
		return nil, wrapError(op, fmt.Errorf("%w: got %q, want %q",
			ErrCeremonyTypeMismatch, clientData.Type, ceremonyAssert))
	}
	if !challengeMatches(clientData.Challenge, expectedChallenge) {
		return nil, wrapError(op, ErrChallengeMismatch)
	}
	if !v.config.OriginAllowed(clientData.Origin) {
		return nil, wrapError(op, fmt.Errorf("%w: %q", ErrOriginMismatch, clientData.Origin))
	}

	rawAuthData := []byte(car.Response.AuthenticatorData)
	authData, err := parseAuthenticatorData(rawAuthData)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if err := v.checkRPIDHash(authData.RPIDHash); err != nil {
		return nil, wrapError(op, err)
	}
	if err := v.checkFlags(authData.Flags); err != nil {
		return nil, wrapError(op, err)
	}

	if len(car.Response.UserHandle) > 0 {
		expected := DeriveUserHandle(record.OwnerIdentity)
		if !bytes.Equal(car.Response.UserHandle, expected) {
			return nil, wrapError(op, fmt.Errorf("%w: user handle does not match credential owner",
				ErrCredentialNotFound))
		}
	}

	pub, err := parseCredentialPublicKey(record.PublicKey)
	if err != nil {
		return nil, wrapError(op, fmt.Errorf("stored public key: %w", err))
	}

	// Signed data is authenticatorData || SHA-256(clientDataJSON).
	clientDataHash := sha256.Sum256(car.Response.ClientDataJSON)
	signed := make([]byte, 0, len(rawAuthData)+len(clientDataHash))
	signed = append(signed, rawAuthData...)
	signed = append(signed, clientDataHash[:]...)

	if err := pub.Verify(signed, car.Response.Signature); err != nil {
		return nil, wrapError(op, err)
	}

	if err := CheckSignCount(record.SignCount, authData.SignCount); err != nil {
		return nil, wrapError(op, err)
	}

	return &AssertionResult{
		Record:       record,
		NewSignCount: authData.SignCount,
		UserVerified: authData.Flags.UserVerified(),
		BackupState:  authData.Flags.BackupState(),
		Origin:       clientData.Origin,
	}, nil
}

// CheckSignCount applies the clone-detection counter policy. A presented
// counter of zero means the authenticator does not track counters and the
// check is skipped. When both values are nonzero the presented counter must
// strictly exceed the stored one; an equal value is a regression. A stored
// zero with a nonzero presented value starts tracking.
func CheckSignCount(stored, presented uint32) error {
	if presented == 0 {
		return nil
	}
	if stored == 0 {
		return nil
	}
	if presented <= stored {
		return fmt.Errorf("%w: presented %d, stored %d", ErrCounterRegression, presented, stored)
	}
	return nil
}

func (v *Validator) checkRPIDHash(hash []byte) error {
	expected := sha256.Sum256([]byte(v.config.RPID))
	if subtle.ConstantTimeCompare(hash, expected[:]) != 1 {
		return ErrRPIDMismatch
	}
	return nil
}

func (v *Validator) checkFlags(flags authenticatorFlags) error {
	if !flags.UserPresent() {
		return ErrUserPresenceRequired
	}
	if v.config.UserVerification == VerificationRequired && !flags.UserVerified() {
		return ErrUserVerificationRequired
	}
	return nil
}
