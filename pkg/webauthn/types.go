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
	"encoding/json"
	"fmt"
	"time"
)

// TrustPathType tags the attestation trust path variant stored with a
// credential.
type TrustPathType string

const (
	// TrustPathEmpty marks a credential registered with no attestation trust
	// chain, the normal case under "none" attestation.
	TrustPathEmpty TrustPathType = "empty"

	// TrustPathCertificate marks a credential whose registration carried an
	// X.509 certificate chain.
	TrustPathCertificate TrustPathType = "certificate"
)

// TrustPath records the attestation trust material seen at registration.
//
// Certificate chains are accepted and tagged at save time, but the chain
// itself is not serialized and cannot be reconstructed: a certificate trust
// path deserializes as empty. Chain verification is out of scope for a
// "none"-only relying party.
type TrustPath struct {
	Type TrustPathType `json:"type"`

	// Class names the certificate container when Type is
	// TrustPathCertificate. Informational only.
	Class string `json:"class,omitempty"`

	// Chain holds the raw DER certificates in memory between validation and
	// save. Never serialized.
	Chain [][]byte `json:"-"`
}

// EmptyTrustPath returns the trust path for a credential with no attestation
// chain.
func EmptyTrustPath() TrustPath {
	return TrustPath{Type: TrustPathEmpty}
}

func (tp *TrustPath) UnmarshalJSON(data []byte) error {
	type alias TrustPath
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	switch decoded.Type {
	case TrustPathEmpty, "":
		*tp = TrustPath{Type: TrustPathEmpty}
	case TrustPathCertificate:
		// The chain is not stored, so a certificate trust path degrades to
		// empty on read.
		*tp = TrustPath{Type: TrustPathEmpty}
	default:
		return fmt.Errorf("unknown trust path type %q", decoded.Type)
	}
	return nil
}

// Extra carries relying-party metadata attached to a credential record, the
// fields a profile or device-management screen displays.
type Extra struct {
	// Label is a user-supplied display name for the credential.
	Label string `json:"label,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"createdAt,omitzero"`

	// LastUsedAt is when the credential last completed an assertion.
	LastUsedAt time.Time `json:"lastUsedAt,omitzero"`

	// LastOrigin is the origin of the most recent successful ceremony.
	LastOrigin string `json:"lastOrigin,omitempty"`
}

// CredentialRecord is the stored representation of a registered credential.
// Binary fields serialize as unpadded base64url.
type CredentialRecord struct {
	// ID is the credential ID from attested credential data.
	ID URLEncodedBase64 `json:"id"`

	// Type is always "public-key".
	Type string `json:"type"`

	// PublicKey is the raw COSE public key bytes, stored exactly as the
	// authenticator produced them.
	PublicKey URLEncodedBase64 `json:"publicKey"`

	// OwnerIdentity is the identity this credential is bound to.
	OwnerIdentity string `json:"ownerIdentity"`

	// SignCount is the last accepted signature counter value.
	SignCount uint32 `json:"signCount"`

	// Transports hints how the authenticator communicates (usb, nfc, ble,
	// hybrid, internal).
	Transports []string `json:"transports,omitempty"`

	// UVInitialized records whether user verification has ever succeeded on
	// this credential.
	UVInitialized bool `json:"uvInitialized"`

	// BackupEligible records the BE flag from registration.
	BackupEligible bool `json:"backupEligible"`

	// BackupState records the most recent BS flag.
	BackupState bool `json:"backupState"`

	// AttestationType names the attestation statement format seen at
	// registration.
	AttestationType string `json:"attestationType"`

	// TrustPath is the attestation trust material variant.
	TrustPath TrustPath `json:"trustPath"`

	// Extra holds relying-party metadata.
	Extra Extra `json:"extra"`
}

// Descriptor returns the credential as a PublicKeyCredentialDescriptor for
// exclude and allow lists.
func (c *CredentialRecord) Descriptor() CredentialDescriptor {
	return CredentialDescriptor{
		Type:       CredentialTypePublicKey,
		ID:         c.ID,
		Transports: c.Transports,
	}
}

// Validate checks the structural invariants a record must satisfy before it
// is persisted.
func (c *CredentialRecord) Validate() error {
	if len(c.ID) == 0 {
		return fmt.Errorf("%w: record missing credential ID", ErrMalformedResponse)
	}
	if c.Type != CredentialTypePublicKey {
		return fmt.Errorf("%w: record type %q", ErrMalformedResponse, c.Type)
	}
	if len(c.PublicKey) == 0 {
		return fmt.Errorf("%w: record missing public key", ErrMalformedResponse)
	}
	if c.OwnerIdentity == "" {
		return fmt.Errorf("%w: record missing owner identity", ErrMalformedResponse)
	}
	return nil
}

// MarshalRecord serializes a credential record for storage.
func MarshalRecord(record *CredentialRecord) ([]byte, error) {
	return json.Marshal(record)
}

// UnmarshalRecord deserializes a stored credential record.
func UnmarshalRecord(data []byte) (*CredentialRecord, error) {
	var record CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode credential record: %w", err)
	}
	if len(record.ID) == 0 || len(record.PublicKey) == 0 {
		return nil, fmt.Errorf("decode credential record: missing required fields")
	}
	return &record, nil
}

// Account is a resolved identity the relying party can bind credentials to.
type Account struct {
	// Identity is the stable unique identifier, typically a username.
	Identity string

	// DisplayName is the human-readable name shown in authenticator UI.
	DisplayName string
}
