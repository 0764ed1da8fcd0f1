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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// challengeLength is the size of generated ceremony challenges. The protocol
// minimum is 16 bytes; 32 gives a comfortable margin.
const challengeLength = 32

// RelyingPartyEntity identifies the relying party in creation options.
type RelyingPartyEntity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// UserEntity identifies the registering user in creation options. ID is the
// user handle, an opaque byte string derived from the identity.
type UserEntity struct {
	ID          URLEncodedBase64 `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
}

// CredentialParameter pairs a credential type with a COSE algorithm.
type CredentialParameter struct {
	Type      string        `json:"type"`
	Algorithm COSEAlgorithm `json:"alg"`
}

// CredentialDescriptor references an existing credential in exclude and
// allow lists.
type CredentialDescriptor struct {
	Type       string           `json:"type"`
	ID         URLEncodedBase64 `json:"id"`
	Transports []string         `json:"transports,omitempty"`
}

// AuthenticatorSelection expresses the relying party's authenticator policy.
type AuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
	ResidentKey             string `json:"residentKey,omitempty"`
	RequireResidentKey      bool   `json:"requireResidentKey,omitempty"`
	UserVerification        string `json:"userVerification,omitempty"`
}

// RegistrationOptions is the PublicKeyCredentialCreationOptions payload sent
// to the client. Timeout is in milliseconds.
type RegistrationOptions struct {
	Challenge              URLEncodedBase64       `json:"challenge"`
	RelyingParty           RelyingPartyEntity     `json:"rp"`
	User                   UserEntity             `json:"user"`
	Parameters             []CredentialParameter  `json:"pubKeyCredParams"`
	ExcludeCredentials     []CredentialDescriptor `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection"`
	Attestation            string                 `json:"attestation"`
	Timeout                int64                  `json:"timeout"`
}

// AuthenticationOptions is the PublicKeyCredentialRequestOptions payload sent
// to the client. An empty allow list invokes the discoverable credential
// flow. Timeout is in milliseconds.
type AuthenticationOptions struct {
	Challenge        URLEncodedBase64       `json:"challenge"`
	RelyingPartyID   string                 `json:"rpId"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials,omitempty"`
	UserVerification string                 `json:"userVerification,omitempty"`
	Timeout          int64                  `json:"timeout"`
}

// GenerateChallenge returns a fresh random challenge from crypto/rand.
func GenerateChallenge() (URLEncodedBase64, error) {
	challenge := make([]byte, challengeLength)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	return challenge, nil
}

// DeriveUserHandle produces the 8-byte opaque user handle for an identity.
// The handle is stable per identity but never equal to it, so the username
// is not exposed in authenticator storage.
func DeriveUserHandle(identity string) URLEncodedBase64 {
	h := fnv.New64a()
	h.Write([]byte(identity))
	handle := make([]byte, 8)
	binary.BigEndian.PutUint64(handle, h.Sum64())
	return handle
}

// BuildRegistrationOptions assembles creation options for the given account.
// The exclude list carries every credential already registered to the
// account so the authenticator refuses a duplicate registration.
func BuildRegistrationOptions(cfg *Config, account *Account, existing []*CredentialRecord) (*RegistrationOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}

	displayName := account.DisplayName
	if displayName == "" {
		displayName = account.Identity
	}

	var exclude []CredentialDescriptor
	for _, record := range existing {
		exclude = append(exclude, record.Descriptor())
	}

	return &RegistrationOptions{
		Challenge: challenge,
		RelyingParty: RelyingPartyEntity{
			Name: cfg.RPDisplayName,
			ID:   cfg.RPID,
		},
		User: UserEntity{
			ID:          DeriveUserHandle(account.Identity),
			Name:        account.Identity,
			DisplayName: displayName,
		},
		Parameters:         credentialParameters(),
		ExcludeCredentials: exclude,
		AuthenticatorSelection: AuthenticatorSelection{
			AuthenticatorAttachment: cfg.AuthenticatorAttachment,
			ResidentKey:             cfg.ResidentKey,
			RequireResidentKey:      cfg.ResidentKey == ResidentKeyRequired,
			UserVerification:        cfg.UserVerification,
		},
		Attestation: AttestationFormatNone,
		Timeout:     cfg.CeremonyTimeout.Milliseconds(),
	}, nil
}

// BuildAuthenticationOptions assembles request options. allowed may be empty,
// which leaves credential selection to the authenticator (discoverable
// credential flow).
func BuildAuthenticationOptions(cfg *Config, allowed []*CredentialRecord) (*AuthenticationOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}

	var allow []CredentialDescriptor
	for _, record := range allowed {
		allow = append(allow, record.Descriptor())
	}

	return &AuthenticationOptions{
		Challenge:        challenge,
		RelyingPartyID:   cfg.RPID,
		AllowCredentials: allow,
		UserVerification: cfg.UserVerification,
		Timeout:          cfg.CeremonyTimeout.Milliseconds(),
	}, nil
}
