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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"
)

// publicKeyData is the common COSE key header, decoded first to dispatch on
// the key type.
type publicKeyData struct {
	KeyType   int64 `cbor:"1,keyasint"`
	Algorithm int64 `cbor:"3,keyasint"`
}

type ec2KeyData struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

type rsaKeyData struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Modulus   []byte `cbor:"-1,keyasint"`
	Exponent  []byte `cbor:"-2,keyasint"`
}

type okpKeyData struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
}

// credentialPublicKey is a decoded COSE public key ready for signature
// verification. Key holds an ecdsa, rsa, ed25519 or secp256k1 public key.
type credentialPublicKey struct {
	Algorithm COSEAlgorithm
	Key       crypto.PublicKey
}

// parseCredentialPublicKey decodes the raw COSE map from attested credential
// data. Keys with algorithms or curves outside the registry are rejected so
// an unverifiable key can never be stored.
func parseCredentialPublicKey(raw []byte) (*credentialPublicKey, error) {
	var header publicKeyData
	if err := cbor.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: COSE key: %v", ErrMalformedResponse, err)
	}

	alg := COSEAlgorithm(header.Algorithm)
	info, ok := algorithmRegistry[alg]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported COSE algorithm %d", ErrMalformedResponse, header.Algorithm)
	}
	if info.KeyType != header.KeyType {
		return nil, fmt.Errorf("%w: COSE key type %d does not match algorithm %s",
			ErrMalformedResponse, header.KeyType, info.Name)
	}

	switch header.KeyType {
	case coseKeyTypeEC2:
		return parseEC2Key(raw, alg)
	case coseKeyTypeRSA:
		return parseRSAKey(raw, alg)
	case coseKeyTypeOKP:
		return parseOKPKey(raw, alg)
	default:
		return nil, fmt.Errorf("%w: unsupported COSE key type %d", ErrMalformedResponse, header.KeyType)
	}
}

func parseEC2Key(raw []byte, alg COSEAlgorithm) (*credentialPublicKey, error) {
	var k ec2KeyData
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: EC2 key: %v", ErrMalformedResponse, err)
	}
	if len(k.X) == 0 || len(k.Y) == 0 {
		return nil, fmt.Errorf("%w: EC2 key missing coordinates", ErrMalformedResponse)
	}

	if k.Curve == coseCurveSecp256k1 {
		if alg != AlgES256K {
			return nil, fmt.Errorf("%w: secp256k1 curve requires ES256K", ErrMalformedResponse)
		}
		var x, y secp256k1.FieldVal
		if x.SetByteSlice(k.X) || y.SetByteSlice(k.Y) {
			return nil, fmt.Errorf("%w: secp256k1 coordinate out of range", ErrMalformedResponse)
		}
		pub := secp256k1.NewPublicKey(&x, &y)
		return &credentialPublicKey{Algorithm: alg, Key: pub}, nil
	}

	var curve elliptic.Curve
	switch k.Curve {
	case coseCurveP256:
		curve = elliptic.P256()
	case coseCurveP384:
		curve = elliptic.P384()
	case coseCurveP521:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: unsupported EC2 curve %d", ErrMalformedResponse, k.Curve)
	}

	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: EC2 point not on curve", ErrMalformedResponse)
	}
	return &credentialPublicKey{Algorithm: alg, Key: pub}, nil
}

func parseRSAKey(raw []byte, alg COSEAlgorithm) (*credentialPublicKey, error) {
	var k rsaKeyData
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: RSA key: %v", ErrMalformedResponse, err)
	}
	if len(k.Modulus) == 0 || len(k.Exponent) == 0 {
		return nil, fmt.Errorf("%w: RSA key missing modulus or exponent", ErrMalformedResponse)
	}
	e := new(big.Int).SetBytes(k.Exponent)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: RSA exponent out of range", ErrMalformedResponse)
	}
	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(k.Modulus),
		E: int(e.Int64()),
	}
	return &credentialPublicKey{Algorithm: alg, Key: pub}, nil
}

func parseOKPKey(raw []byte, alg COSEAlgorithm) (*credentialPublicKey, error) {
	var k okpKeyData
	if err := cbor.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("%w: OKP key: %v", ErrMalformedResponse, err)
	}
	// Ed448 has no verifier in this stack.
	if k.Curve != coseCurveEd25519 {
		return nil, fmt.Errorf("%w: unsupported OKP curve %d", ErrMalformedResponse, k.Curve)
	}
	if len(k.X) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: Ed25519 key must be %d bytes", ErrMalformedResponse, ed25519.PublicKeySize)
	}
	return &credentialPublicKey{Algorithm: alg, Key: ed25519.PublicKey(k.X)}, nil
}

// Verify checks an assertion signature over data. The hash is selected by the
// key's own COSE algorithm, not by anything the client sends.
func (pk *credentialPublicKey) Verify(data, signature []byte) error {
	info, ok := algorithmRegistry[pk.Algorithm]
	if !ok {
		return fmt.Errorf("%w: algorithm %d not in registry", ErrSignatureInvalid, pk.Algorithm)
	}

	var digest []byte
	if info.Hash != 0 {
		h := info.Hash.New()
		h.Write(data)
		digest = h.Sum(nil)
	}

	switch key := pk.Key.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return ErrSignatureInvalid
		}
		return nil

	case *secp256k1.PublicKey:
		sig, err := secpecdsa.ParseDERSignature(signature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		if !sig.Verify(digest, key) {
			return ErrSignatureInvalid
		}
		return nil

	case *rsa.PublicKey:
		switch pk.Algorithm {
		case AlgPS256, AlgPS384, AlgPS512:
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: info.Hash}
			if err := rsa.VerifyPSS(key, info.Hash, digest, signature, opts); err != nil {
				return ErrSignatureInvalid
			}
		default:
			if err := rsa.VerifyPKCS1v15(key, info.Hash, digest, signature); err != nil {
				return ErrSignatureInvalid
			}
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(key, data, signature) {
			return ErrSignatureInvalid
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrSignatureInvalid, pk.Key)
	}
}
