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
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://example.com"

func registrationFixture(t *testing.T) (*Validator, *MockAuthenticator, *RegistrationOptions) {
	t.Helper()
	cfg := testConfig()
	auth, err := NewMockAuthenticator()
	require.NoError(t, err)
	opts, err := BuildRegistrationOptions(cfg, &Account{Identity: "alice"}, nil)
	require.NoError(t, err)
	return NewValidator(cfg), auth, opts
}

func parseCreation(t *testing.T, raw []byte) *CredentialCreationResponse {
	t.Helper()
	ccr, err := ParseCredentialCreationResponse(raw)
	require.NoError(t, err)
	return ccr
}

func TestVerifyRegistration(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	record, err := validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	require.NoError(t, err)

	assert.Equal(t, auth.CredentialID(), []byte(record.ID))
	assert.Equal(t, CredentialTypePublicKey, record.Type)
	assert.NotEmpty(t, record.PublicKey)
	assert.Empty(t, record.OwnerIdentity, "owner is bound by the caller, not the validator")
	assert.Equal(t, uint32(0), record.SignCount)
	assert.Equal(t, []string{"internal"}, record.Transports)
	assert.True(t, record.UVInitialized)
	assert.Equal(t, "none", record.AttestationType)
	assert.Equal(t, TrustPathEmpty, record.TrustPath.Type)
	assert.Equal(t, testOrigin, record.Extra.LastOrigin)
	assert.False(t, record.Extra.CreatedAt.IsZero())
}

func TestVerifyRegistrationCeremonyTypeMismatch(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)
	ccr := parseCreation(t, raw)

	// Swap in assertion-side client data.
	ccr.Response.ClientDataJSON, err = json.Marshal(map[string]any{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(opts.Challenge),
		"origin":    testOrigin,
	})
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(ccr, opts.Challenge)
	assert.ErrorIs(t, err, ErrCeremonyTypeMismatch)
}

func TestVerifyRegistrationChallengeMismatch(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	other, err := GenerateChallenge()
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(parseCreation(t, raw), other)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestVerifyRegistrationOriginMismatch(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, "https://attacker.example.net")
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestVerifyRegistrationRPIDMismatch(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	// Authenticator answers for a different relying party ID.
	opts.RelyingParty.ID = "other.example.net"
	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	assert.ErrorIs(t, err, ErrRPIDMismatch)
}

func TestVerifyRegistrationUnsupportedFormat(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)
	ccr := parseCreation(t, raw)

	var attObj map[string]any
	require.NoError(t, cbor.Unmarshal(ccr.Response.AttestationObject, &attObj))
	attObj["fmt"] = "packed"
	repacked, err := cbor.Marshal(attObj)
	require.NoError(t, err)
	ccr.Response.AttestationObject = repacked

	_, err = validator.VerifyRegistration(ccr, opts.Challenge)
	assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
}

func TestVerifyRegistrationRPIDCheckedBeforeFormat(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	// Both the rpIdHash and the attestation format are wrong; the rpIdHash
	// failure is reported first.
	opts.RelyingParty.ID = "other.example.net"
	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)
	ccr := parseCreation(t, raw)

	var attObj map[string]any
	require.NoError(t, cbor.Unmarshal(ccr.Response.AttestationObject, &attObj))
	attObj["fmt"] = "packed"
	repacked, err := cbor.Marshal(attObj)
	require.NoError(t, err)
	ccr.Response.AttestationObject = repacked

	_, err = validator.VerifyRegistration(ccr, opts.Challenge)
	assert.ErrorIs(t, err, ErrRPIDMismatch)
}

func TestVerifyRegistrationUserPresenceRequired(t *testing.T) {
	validator, auth, opts := registrationFixture(t)
	auth.UserPresent = false

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	assert.ErrorIs(t, err, ErrUserPresenceRequired)
}

func TestVerifyRegistrationUserVerificationRequired(t *testing.T) {
	cfg := testConfig()
	cfg.UserVerification = VerificationRequired
	validator := NewValidator(cfg)

	auth, err := NewMockAuthenticator()
	require.NoError(t, err)
	auth.UserVerified = false

	opts, err := BuildRegistrationOptions(cfg, &Account{Identity: "alice"}, nil)
	require.NoError(t, err)
	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	_, err = validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	assert.ErrorIs(t, err, ErrUserVerificationRequired)
}

func TestVerifyRegistrationPreferredAcceptsNoUV(t *testing.T) {
	validator, auth, opts := registrationFixture(t)
	auth.UserVerified = false

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	record, err := validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	require.NoError(t, err)
	assert.False(t, record.UVInitialized)
}

func TestVerifyRegistrationBackupFlags(t *testing.T) {
	validator, auth, opts := registrationFixture(t)
	auth.BackupEligible = true
	auth.BackupState = true

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)

	record, err := validator.VerifyRegistration(parseCreation(t, raw), opts.Challenge)
	require.NoError(t, err)
	assert.True(t, record.BackupEligible)
	assert.True(t, record.BackupState)
}

func TestVerifyRegistrationGarbageAttestationObject(t *testing.T) {
	validator, auth, opts := registrationFixture(t)

	raw, err := auth.CreateAttestationResponse(opts, testOrigin)
	require.NoError(t, err)
	ccr := parseCreation(t, raw)
	ccr.Response.AttestationObject = []byte{0xde, 0xad, 0xbe, 0xef}

	_, err = validator.VerifyRegistration(ccr, opts.Challenge)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func assertionFixture(t *testing.T) (*Validator, *MockAuthenticator, *CredentialRecord, *AuthenticationOptions) {
	t.Helper()
	cfg := testConfig()
	validator := NewValidator(cfg)

	auth, err := NewMockAuthenticator()
	require.NoError(t, err)
	regOpts, err := BuildRegistrationOptions(cfg, &Account{Identity: "alice"}, nil)
	require.NoError(t, err)
	raw, err := auth.CreateAttestationResponse(regOpts, testOrigin)
	require.NoError(t, err)
	record, err := validator.VerifyRegistration(parseCreation(t, raw), regOpts.Challenge)
	require.NoError(t, err)
	record.OwnerIdentity = "alice"

	authOpts, err := BuildAuthenticationOptions(cfg, []*CredentialRecord{record})
	require.NoError(t, err)
	return validator, auth, record, authOpts
}

func parseAssertion(t *testing.T, raw []byte) *CredentialAssertionResponse {
	t.Helper()
	car, err := ParseCredentialAssertionResponse(raw)
	require.NoError(t, err)
	return car
}

func TestVerifyAssertion(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, nil)
	require.NoError(t, err)

	result, err := validator.VerifyAssertion(parseAssertion(t, raw), opts.Challenge, record)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), result.NewSignCount)
	assert.True(t, result.UserVerified)
	assert.Equal(t, testOrigin, result.Origin)
}

func TestVerifyAssertionWithUserHandle(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, DeriveUserHandle("alice"))
	require.NoError(t, err)

	_, err = validator.VerifyAssertion(parseAssertion(t, raw), opts.Challenge, record)
	assert.NoError(t, err)
}

func TestVerifyAssertionForeignUserHandle(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, DeriveUserHandle("mallory"))
	require.NoError(t, err)

	_, err = validator.VerifyAssertion(parseAssertion(t, raw), opts.Challenge, record)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestVerifyAssertionTamperedClientData(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, nil)
	require.NoError(t, err)
	car := parseAssertion(t, raw)

	// Re-encode the signed client data with a different challenge. The
	// substitute parses cleanly but no longer matches what was signed.
	other, err := GenerateChallenge()
	require.NoError(t, err)
	car.Response.ClientDataJSON, err = json.Marshal(map[string]any{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(other),
		"origin":    testOrigin,
	})
	require.NoError(t, err)

	_, err = validator.VerifyAssertion(car, opts.Challenge, record)
	assert.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestVerifyAssertionBadSignature(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, nil)
	require.NoError(t, err)
	car := parseAssertion(t, raw)
	car.Response.Signature[len(car.Response.Signature)/2] ^= 0x01

	_, err = validator.VerifyAssertion(car, opts.Challenge, record)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyAssertionWrongKey(t *testing.T) {
	validator, _, record, opts := assertionFixture(t)

	// A different authenticator answers the challenge for the same
	// credential record.
	impostor, err := NewMockAuthenticator()
	require.NoError(t, err)
	raw, err := impostor.CreateAssertionResponse(opts, testOrigin, nil)
	require.NoError(t, err)

	_, err = validator.VerifyAssertion(parseAssertion(t, raw), opts.Challenge, record)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyAssertionCounterRegression(t *testing.T) {
	validator, auth, record, opts := assertionFixture(t)
	record.SignCount = 10
	auth.SetSignCount(4) // emits 5, behind the stored 10

	raw, err := auth.CreateAssertionResponse(opts, testOrigin, nil)
	require.NoError(t, err)

	_, err = validator.VerifyAssertion(parseAssertion(t, raw), opts.Challenge, record)
	assert.ErrorIs(t, err, ErrCounterRegression)
}

func TestCheckSignCount(t *testing.T) {
	tests := []struct {
		name      string
		stored    uint32
		presented uint32
		wantErr   bool
	}{
		{"both zero", 0, 0, false},
		{"presented zero skips check", 10, 0, false},
		{"stored zero starts tracking", 0, 5, false},
		{"strictly greater", 5, 6, false},
		{"equal is regression", 5, 5, true},
		{"behind is regression", 5, 4, true},
		{"large jump accepted", 5, 5000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSignCount(tt.stored, tt.presented)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCounterRegression)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
