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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MockAuthenticator simulates a platform authenticator for tests and demos.
// It produces real ES256-signed responses in the "none" attestation format,
// with controllable flags and signature counter.
type MockAuthenticator struct {
	key          *ecdsa.PrivateKey
	credentialID []byte
	aaguid       []byte
	signCount    uint32

	// UserPresent and UserVerified control the UP and UV flags on emitted
	// responses.
	UserPresent  bool
	UserVerified bool

	// BackupEligible and BackupState control the BE and BS flags.
	BackupEligible bool
	BackupState    bool
}

// NewMockAuthenticator creates a mock authenticator with a fresh P-256 key
// and random credential ID. UP and UV default to set.
func NewMockAuthenticator() (*MockAuthenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: generate key: %w", err)
	}

	credentialID := make([]byte, 32)
	if _, err := rand.Read(credentialID); err != nil {
		return nil, fmt.Errorf("mock authenticator: credential id: %w", err)
	}

	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, fmt.Errorf("mock authenticator: aaguid: %w", err)
	}

	return &MockAuthenticator{
		key:          key,
		credentialID: credentialID,
		aaguid:       aaguid,
		UserPresent:  true,
		UserVerified: true,
	}, nil
}

// CredentialID returns the authenticator's fixed credential ID.
func (a *MockAuthenticator) CredentialID() []byte {
	return a.credentialID
}

// SignCount returns the current signature counter.
func (a *MockAuthenticator) SignCount() uint32 {
	return a.signCount
}

// SetSignCount overrides the signature counter, for clone-detection tests.
func (a *MockAuthenticator) SetSignCount(count uint32) {
	a.signCount = count
}

// CreateAttestationResponse answers registration options the way a browser
// would, returning the PublicKeyCredential JSON for FinishRegistration.
func (a *MockAuthenticator) CreateAttestationResponse(options *RegistrationOptions, origin string) ([]byte, error) {
	clientData, err := json.Marshal(map[string]any{
		"type":      ceremonyCreate,
		"challenge": base64.RawURLEncoding.EncodeToString(options.Challenge),
		"origin":    origin,
	})
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: client data: %w", err)
	}

	coseKey, err := a.marshalCOSEKey()
	if err != nil {
		return nil, err
	}

	authData := a.buildAuthData(options.RelyingParty.ID, true, coseKey)
	attObj, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: attestation object: %w", err)
	}

	response := CredentialCreationResponse{
		ID:    base64.RawURLEncoding.EncodeToString(a.credentialID),
		RawID: a.credentialID,
		Type:  CredentialTypePublicKey,
		Response: AttestationResponse{
			ClientDataJSON:    clientData,
			AttestationObject: attObj,
			Transports:        []string{"internal"},
		},
	}
	return json.Marshal(response)
}

// CreateAssertionResponse answers authentication options, incrementing the
// signature counter before signing, and returns the PublicKeyCredential JSON
// for FinishAuthentication.
func (a *MockAuthenticator) CreateAssertionResponse(options *AuthenticationOptions, origin string, userHandle []byte) ([]byte, error) {
	clientData, err := json.Marshal(map[string]any{
		"type":      ceremonyAssert,
		"challenge": base64.RawURLEncoding.EncodeToString(options.Challenge),
		"origin":    origin,
	})
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: client data: %w", err)
	}

	a.signCount++
	authData := a.buildAuthData(options.RelyingPartyID, false, nil)

	clientDataHash := sha256.Sum256(clientData)
	signed := append(append([]byte{}, authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)

	signature, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: sign: %w", err)
	}

	response := CredentialAssertionResponse{
		ID:    base64.RawURLEncoding.EncodeToString(a.credentialID),
		RawID: a.credentialID,
		Type:  CredentialTypePublicKey,
		Response: AssertionResponse{
			ClientDataJSON:    clientData,
			AuthenticatorData: authData,
			Signature:         signature,
			UserHandle:        userHandle,
		},
	}
	return json.Marshal(response)
}

func (a *MockAuthenticator) buildAuthData(rpID string, attested bool, coseKey []byte) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))

	var flags byte
	if a.UserPresent {
		flags |= flagUserPresent
	}
	if a.UserVerified {
		flags |= flagUserVerified
	}
	if a.BackupEligible {
		flags |= flagBackupEligible
	}
	if a.BackupState {
		flags |= flagBackupState
	}
	if attested {
		flags |= flagAttestedCredential
	}

	authData := make([]byte, 0, 37+len(coseKey)+len(a.credentialID)+18)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, flags)
	authData = binary.BigEndian.AppendUint32(authData, a.signCount)

	if attested {
		authData = append(authData, a.aaguid...)
		authData = binary.BigEndian.AppendUint16(authData, uint16(len(a.credentialID)))
		authData = append(authData, a.credentialID...)
		authData = append(authData, coseKey...)
	}
	return authData
}

func (a *MockAuthenticator) marshalCOSEKey() ([]byte, error) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	a.key.PublicKey.X.FillBytes(x)
	a.key.PublicKey.Y.FillBytes(y)

	coseKey, err := cbor.Marshal(map[int64]any{
		1:  coseKeyTypeEC2,
		3:  int64(AlgES256),
		-1: coseCurveP256,
		-2: x,
		-3: y,
	})
	if err != nil {
		return nil, fmt.Errorf("mock authenticator: COSE key: %w", err)
	}
	return coseKey, nil
}
