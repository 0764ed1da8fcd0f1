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
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLEncodedBase64RoundTrip(t *testing.T) {
	original := URLEncodedBase64{0xff, 0xfe, 0x00, 0x01, 0x7f}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "=", "wire encoding must be unpadded")
	assert.NotContains(t, string(data), "+")
	assert.NotContains(t, string(data), "/")

	var decoded URLEncodedBase64
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []byte(original), []byte(decoded))
}

func TestURLEncodedBase64AcceptsPadding(t *testing.T) {
	var decoded URLEncodedBase64
	require.NoError(t, json.Unmarshal([]byte(`"aGk="`), &decoded))
	assert.Equal(t, []byte("hi"), []byte(decoded))
}

func TestURLEncodedBase64RejectsInvalid(t *testing.T) {
	var decoded URLEncodedBase64
	assert.Error(t, json.Unmarshal([]byte(`"not!valid"`), &decoded))
}

func TestParseClientData(t *testing.T) {
	raw := []byte(`{"type":"webauthn.create","challenge":"AQIDBA","origin":"https://example.com"}`)

	cd, err := parseClientData(raw)
	require.NoError(t, err)
	assert.Equal(t, "webauthn.create", cd.Type)
	assert.Equal(t, []byte{1, 2, 3, 4}, []byte(cd.Challenge))
	assert.Equal(t, "https://example.com", cd.Origin)
}

func TestParseClientDataMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"type":`},
		{"missing type", `{"challenge":"AQID","origin":"https://example.com"}`},
		{"missing origin", `{"type":"webauthn.get","challenge":"AQID"}`},
		{"missing challenge", `{"type":"webauthn.get","origin":"https://example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseClientData([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func buildTestAuthData(t *testing.T, rpID string, flags byte, count uint32) []byte {
	t.Helper()
	hash := sha256.Sum256([]byte(rpID))
	data := make([]byte, 0, 37)
	data = append(data, hash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, count)
	return data
}

func TestParseAuthenticatorDataHeader(t *testing.T) {
	raw := buildTestAuthData(t, "example.com", flagUserPresent|flagUserVerified, 42)

	ad, err := parseAuthenticatorData(raw)
	require.NoError(t, err)
	assert.True(t, ad.Flags.UserPresent())
	assert.True(t, ad.Flags.UserVerified())
	assert.False(t, ad.Flags.AttestedCredential())
	assert.Equal(t, uint32(42), ad.SignCount)
	assert.Empty(t, ad.CredentialID)
}

func TestParseAuthenticatorDataTooShort(t *testing.T) {
	_, err := parseAuthenticatorData(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseAuthenticatorDataTruncatedCredential(t *testing.T) {
	raw := buildTestAuthData(t, "example.com", flagUserPresent|flagAttestedCredential, 0)
	// AT flag set but only half an AAGUID follows.
	raw = append(raw, make([]byte, 8)...)

	_, err := parseAuthenticatorData(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseAuthenticatorDataCredentialLengthOverrun(t *testing.T) {
	raw := buildTestAuthData(t, "example.com", flagUserPresent|flagAttestedCredential, 0)
	raw = append(raw, make([]byte, 16)...)                  // aaguid
	raw = binary.BigEndian.AppendUint16(raw, 100)           // claims 100 bytes
	raw = append(raw, []byte{0x01, 0x02, 0x03, 0x04}...)    // provides 4

	_, err := parseAuthenticatorData(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseAuthenticatorDataTrailingBytes(t *testing.T) {
	raw := buildTestAuthData(t, "example.com", flagUserPresent, 1)
	raw = append(raw, 0xde, 0xad)

	_, err := parseAuthenticatorData(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseAuthenticatorDataFromMock(t *testing.T) {
	auth, err := NewMockAuthenticator()
	require.NoError(t, err)
	coseKey, err := auth.marshalCOSEKey()
	require.NoError(t, err)

	raw := auth.buildAuthData("example.com", true, coseKey)
	ad, err := parseAuthenticatorData(raw)
	require.NoError(t, err)
	assert.True(t, ad.Flags.AttestedCredential())
	assert.Equal(t, auth.CredentialID(), ad.CredentialID)
	assert.Equal(t, coseKey, ad.CredentialPublicKey)
}

func TestParseCredentialCreationResponseRejectsNonPublicKey(t *testing.T) {
	raw := []byte(`{"id":"AQID","rawId":"AQID","type":"password","response":{"clientDataJSON":"e30","attestationObject":"oA"}}`)
	_, err := ParseCredentialCreationResponse(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseCredentialCreationResponseMissingFields(t *testing.T) {
	raw := []byte(`{"id":"AQID","rawId":"AQID","type":"public-key","response":{}}`)
	_, err := ParseCredentialCreationResponse(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseCredentialAssertionResponseMissingSignature(t *testing.T) {
	raw := []byte(`{"id":"AQID","rawId":"AQID","type":"public-key","response":{"clientDataJSON":"e30","authenticatorData":"AQID"}}`)
	_, err := ParseCredentialAssertionResponse(raw)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestChallengeMatchesConstantLength(t *testing.T) {
	assert.True(t, challengeMatches([]byte("abcd"), []byte("abcd")))
	assert.False(t, challengeMatches([]byte("abcd"), []byte("abce")))
	assert.False(t, challengeMatches([]byte("abcd"), []byte("abc")))
	assert.False(t, challengeMatches(nil, []byte("abcd")))
}
