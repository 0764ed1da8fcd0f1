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
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenLifetime is how long issued session tokens stay valid.
const DefaultTokenLifetime = 1 * time.Hour

// JWTIssuer issues signed JWTs after successful authentication. The signing
// method follows the key type: ES256 for ECDSA, RS256 for RSA, EdDSA for
// Ed25519.
type JWTIssuer struct {
	signer   crypto.Signer
	method   jwt.SigningMethod
	issuer   string
	lifetime time.Duration
}

// NewJWTIssuer creates a token issuer signing with the given key. issuer is
// the "iss" claim, typically the relying party ID.
func NewJWTIssuer(signer crypto.Signer, issuer string, lifetime time.Duration) (*JWTIssuer, error) {
	if signer == nil {
		return nil, fmt.Errorf("jwt issuer: nil signing key")
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	var method jwt.SigningMethod
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case ed25519.PublicKey:
		method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("jwt issuer: unsupported key type %T", signer.Public())
	}

	return &JWTIssuer{
		signer:   signer,
		method:   method,
		issuer:   issuer,
		lifetime: lifetime,
	}, nil
}

// IssueToken implements TokenIssuer. Claims carry the authenticated identity
// as subject and the credential ID used to authenticate.
func (j *JWTIssuer) IssueToken(_ context.Context, account *Account, record *CredentialRecord) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": j.issuer,
		"sub": account.Identity,
		"iat": now.Unix(),
		"exp": now.Add(j.lifetime).Unix(),
		"cid": record.ID.String(),
		"amr": []string{"webauthn"},
	}

	token := jwt.NewWithClaims(j.method, claims)
	signed, err := token.SignedString(signingKey(j.signer))
	if err != nil {
		return "", fmt.Errorf("jwt issuer: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token issued by this issuer, returning the
// subject identity.
func (j *JWTIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return j.signer.Public(), nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("jwt issuer: verify: %w", err)
	}
	return token.Claims.GetSubject()
}

// signingKey unwraps the concrete private key, which golang-jwt requires for
// its builtin signing methods.
func signingKey(signer crypto.Signer) any {
	switch key := signer.(type) {
	case *ecdsa.PrivateKey:
		return key
	case *rsa.PrivateKey:
		return key
	case ed25519.PrivateKey:
		return key
	default:
		return signer
	}
}
