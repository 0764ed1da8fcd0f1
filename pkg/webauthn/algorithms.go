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

import "crypto"

// COSEAlgorithm is a COSE algorithm identifier from the IANA COSE registry.
type COSEAlgorithm int64

const (
	AlgES256  COSEAlgorithm = -7
	AlgEdDSA  COSEAlgorithm = -8
	AlgES384  COSEAlgorithm = -35
	AlgES512  COSEAlgorithm = -36
	AlgPS256  COSEAlgorithm = -37
	AlgPS384  COSEAlgorithm = -38
	AlgPS512  COSEAlgorithm = -39
	AlgES256K COSEAlgorithm = -47
	AlgRS256  COSEAlgorithm = -257
	AlgRS384  COSEAlgorithm = -258
	AlgRS512  COSEAlgorithm = -259
)

// COSE key types.
const (
	coseKeyTypeOKP int64 = 1
	coseKeyTypeEC2 int64 = 2
	coseKeyTypeRSA int64 = 3
)

// COSE elliptic curve identifiers.
const (
	coseCurveP256      int64 = 1
	coseCurveP384      int64 = 2
	coseCurveP521      int64 = 3
	coseCurveEd25519   int64 = 6
	coseCurveEd448     int64 = 7
	coseCurveSecp256k1 int64 = 8
)

type algorithmInfo struct {
	Name    string
	Hash    crypto.Hash
	KeyType int64
}

// registeredAlgorithms holds the full set the relying party accepts, in the
// preference order advertised during registration.
var registeredAlgorithms = []COSEAlgorithm{
	AlgES256,
	AlgES256K,
	AlgES384,
	AlgES512,
	AlgRS256,
	AlgRS384,
	AlgRS512,
	AlgPS256,
	AlgPS384,
	AlgPS512,
	AlgEdDSA,
}

var algorithmRegistry = map[COSEAlgorithm]algorithmInfo{
	AlgES256:  {Name: "ES256", Hash: crypto.SHA256, KeyType: coseKeyTypeEC2},
	AlgES384:  {Name: "ES384", Hash: crypto.SHA384, KeyType: coseKeyTypeEC2},
	AlgES512:  {Name: "ES512", Hash: crypto.SHA512, KeyType: coseKeyTypeEC2},
	AlgES256K: {Name: "ES256K", Hash: crypto.SHA256, KeyType: coseKeyTypeEC2},
	AlgEdDSA:  {Name: "EdDSA", KeyType: coseKeyTypeOKP},
	AlgRS256:  {Name: "RS256", Hash: crypto.SHA256, KeyType: coseKeyTypeRSA},
	AlgRS384:  {Name: "RS384", Hash: crypto.SHA384, KeyType: coseKeyTypeRSA},
	AlgRS512:  {Name: "RS512", Hash: crypto.SHA512, KeyType: coseKeyTypeRSA},
	AlgPS256:  {Name: "PS256", Hash: crypto.SHA256, KeyType: coseKeyTypeRSA},
	AlgPS384:  {Name: "PS384", Hash: crypto.SHA384, KeyType: coseKeyTypeRSA},
	AlgPS512:  {Name: "PS512", Hash: crypto.SHA512, KeyType: coseKeyTypeRSA},
}

// SupportedAlgorithm reports whether the relying party accepts keys using the
// given COSE algorithm identifier.
func SupportedAlgorithm(alg COSEAlgorithm) bool {
	_, ok := algorithmRegistry[alg]
	return ok
}

// AlgorithmName returns the JOSE-style name for a COSE algorithm identifier,
// or "unknown" for identifiers outside the registry.
func AlgorithmName(alg COSEAlgorithm) string {
	if info, ok := algorithmRegistry[alg]; ok {
		return info.Name
	}
	return "unknown"
}

// credentialParameters returns the pubKeyCredParams advertised in
// registration options. Both the option builder and the validator read from
// the same registry, so a key type accepted here is always verifiable later.
func credentialParameters() []CredentialParameter {
	params := make([]CredentialParameter, 0, len(registeredAlgorithms))
	for _, alg := range registeredAlgorithms {
		params = append(params, CredentialParameter{
			Type:      CredentialTypePublicKey,
			Algorithm: alg,
		})
	}
	return params
}
