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
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// CredentialTypePublicKey is the only credential type WebAuthn defines.
const CredentialTypePublicKey = "public-key"

// Client data ceremony types.
const (
	ceremonyCreate = "webauthn.create"
	ceremonyAssert = "webauthn.get"
)

// AttestationFormatNone is the "none" attestation statement format, the only
// format this relying party accepts.
const AttestationFormatNone = "none"

// Authenticator data flag bits.
const (
	flagUserPresent        byte = 0x01
	flagUserVerified       byte = 0x04
	flagBackupEligible     byte = 0x08
	flagBackupState        byte = 0x10
	flagAttestedCredential byte = 0x40
	flagExtensionData      byte = 0x80
)

// URLEncodedBase64 is a byte slice that marshals to and from unpadded
// base64url in JSON, the encoding the WebAuthn JSON wire format uses for all
// binary fields. Padded input is tolerated on decode.
type URLEncodedBase64 []byte

func (b URLEncodedBase64) String() string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func (b URLEncodedBase64) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

func (b *URLEncodedBase64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return fmt.Errorf("invalid base64url value: %w", err)
	}
	*b = decoded
	return nil
}

// collectedClientData is the parsed clientDataJSON from an authenticator
// response.
type collectedClientData struct {
	Type        string           `json:"type"`
	Challenge   URLEncodedBase64 `json:"challenge"`
	Origin      string           `json:"origin"`
	CrossOrigin bool             `json:"crossOrigin,omitempty"`
}

func parseClientData(raw []byte) (*collectedClientData, error) {
	var cd collectedClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, fmt.Errorf("%w: client data: %v", ErrMalformedResponse, err)
	}
	if cd.Type == "" || cd.Origin == "" || len(cd.Challenge) == 0 {
		return nil, fmt.Errorf("%w: client data missing required fields", ErrMalformedResponse)
	}
	return &cd, nil
}

// challengeMatches compares the signed challenge with the issued one in
// constant time.
func challengeMatches(signed, issued []byte) bool {
	if len(signed) != len(issued) {
		return false
	}
	return subtle.ConstantTimeCompare(signed, issued) == 1
}

// attestationObject is the CBOR-decoded attestationObject from a
// registration response.
type attestationObject struct {
	Format       string          `cbor:"fmt"`
	AttStatement map[string]any  `cbor:"attStmt"`
	AuthData     cbor.RawMessage `cbor:"authData"`
}

func parseAttestationObject(raw []byte) (*attestationObject, []byte, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, nil, fmt.Errorf("%w: attestation object: %v", ErrMalformedResponse, err)
	}
	var authData []byte
	if err := cbor.Unmarshal(obj.AuthData, &authData); err != nil {
		return nil, nil, fmt.Errorf("%w: attestation object authData: %v", ErrMalformedResponse, err)
	}
	if obj.Format == "" {
		return nil, nil, fmt.Errorf("%w: attestation object missing format", ErrMalformedResponse)
	}
	return &obj, authData, nil
}

// authenticatorFlags wraps the flag byte from authenticator data.
type authenticatorFlags byte

func (f authenticatorFlags) UserPresent() bool        { return byte(f)&flagUserPresent != 0 }
func (f authenticatorFlags) UserVerified() bool       { return byte(f)&flagUserVerified != 0 }
func (f authenticatorFlags) BackupEligible() bool     { return byte(f)&flagBackupEligible != 0 }
func (f authenticatorFlags) BackupState() bool        { return byte(f)&flagBackupState != 0 }
func (f authenticatorFlags) AttestedCredential() bool { return byte(f)&flagAttestedCredential != 0 }
func (f authenticatorFlags) HasExtensions() bool      { return byte(f)&flagExtensionData != 0 }

// authenticatorData is the parsed binary authenticator data block.
type authenticatorData struct {
	RPIDHash  []byte
	Flags     authenticatorFlags
	SignCount uint32

	// Attested credential data, present only when the AT flag is set.
	AAGUID              []byte
	CredentialID        []byte
	CredentialPublicKey []byte
}

const minAuthDataLength = 32 + 1 + 4

// parseAuthenticatorData decodes the fixed header and, when the AT flag is
// set, the attested credential data. The trailing COSE key length is not
// self-describing, so the CBOR decoder's consumed-byte count delimits it.
func parseAuthenticatorData(raw []byte) (*authenticatorData, error) {
	if len(raw) < minAuthDataLength {
		return nil, fmt.Errorf("%w: authenticator data too short (%d bytes)", ErrMalformedResponse, len(raw))
	}

	ad := &authenticatorData{
		RPIDHash:  raw[:32],
		Flags:     authenticatorFlags(raw[32]),
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
	}

	rest := raw[37:]
	if ad.Flags.AttestedCredential() {
		if len(rest) < 18 {
			return nil, fmt.Errorf("%w: truncated attested credential data", ErrMalformedResponse)
		}
		ad.AAGUID = rest[:16]
		idLen := int(binary.BigEndian.Uint16(rest[16:18]))
		rest = rest[18:]
		if len(rest) < idLen {
			return nil, fmt.Errorf("%w: credential ID length exceeds data", ErrMalformedResponse)
		}
		ad.CredentialID = rest[:idLen]
		rest = rest[idLen:]

		dec := cbor.NewDecoder(bytes.NewReader(rest))
		var key cbor.RawMessage
		if err := dec.Decode(&key); err != nil {
			return nil, fmt.Errorf("%w: credential public key: %v", ErrMalformedResponse, err)
		}
		ad.CredentialPublicKey = rest[:dec.NumBytesRead()]
		rest = rest[dec.NumBytesRead():]
	}

	if len(rest) > 0 && !ad.Flags.HasExtensions() {
		return nil, fmt.Errorf("%w: trailing bytes after authenticator data", ErrMalformedResponse)
	}
	return ad, nil
}

// AttestationResponse is the response member of a registration-side
// PublicKeyCredential.
type AttestationResponse struct {
	ClientDataJSON    URLEncodedBase64 `json:"clientDataJSON"`
	AttestationObject URLEncodedBase64 `json:"attestationObject"`
	Transports        []string         `json:"transports,omitempty"`
}

// CredentialCreationResponse is the JSON a client sends back after
// navigator.credentials.create.
type CredentialCreationResponse struct {
	ID       string              `json:"id"`
	RawID    URLEncodedBase64    `json:"rawId"`
	Type     string              `json:"type"`
	Response AttestationResponse `json:"response"`
}

// AssertionResponse is the response member of an authentication-side
// PublicKeyCredential.
type AssertionResponse struct {
	ClientDataJSON    URLEncodedBase64 `json:"clientDataJSON"`
	AuthenticatorData URLEncodedBase64 `json:"authenticatorData"`
	Signature         URLEncodedBase64 `json:"signature"`
	UserHandle        URLEncodedBase64 `json:"userHandle,omitempty"`
}

// CredentialAssertionResponse is the JSON a client sends back after
// navigator.credentials.get.
type CredentialAssertionResponse struct {
	ID       string            `json:"id"`
	RawID    URLEncodedBase64  `json:"rawId"`
	Type     string            `json:"type"`
	Response AssertionResponse `json:"response"`
}

// ParseCredentialCreationResponse decodes and structurally validates a raw
// registration response body.
func ParseCredentialCreationResponse(raw []byte) (*CredentialCreationResponse, error) {
	var ccr CredentialCreationResponse
	if err := json.Unmarshal(raw, &ccr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if ccr.Type != CredentialTypePublicKey {
		return nil, fmt.Errorf("%w: credential type %q", ErrMalformedResponse, ccr.Type)
	}
	if len(ccr.RawID) == 0 || len(ccr.Response.ClientDataJSON) == 0 || len(ccr.Response.AttestationObject) == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedResponse)
	}
	return &ccr, nil
}

// ParseCredentialAssertionResponse decodes and structurally validates a raw
// authentication response body.
func ParseCredentialAssertionResponse(raw []byte) (*CredentialAssertionResponse, error) {
	var car CredentialAssertionResponse
	if err := json.Unmarshal(raw, &car); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if car.Type != CredentialTypePublicKey {
		return nil, fmt.Errorf("%w: credential type %q", ErrMalformedResponse, car.Type)
	}
	if len(car.RawID) == 0 || len(car.Response.ClientDataJSON) == 0 ||
		len(car.Response.AuthenticatorData) == 0 || len(car.Response.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedResponse)
	}
	return &car, nil
}
