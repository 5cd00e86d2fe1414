// Package verify implements PolicyScoringVerifier: RSA verification of the
// signed X-Decency-Scoring header the Policy server injects, so a spammer
// can't forge a favorable score by hand-crafting the header.
//
// Built directly on crypto/rsa + crypto/sha256 rather than a full DKIM
// library (canonicalization, body hashing, selector/DNS lookup is the
// wrong shape for a single pre-shared RSA public key signing a small
// payload the Policy server itself produced); justified in DESIGN.md.
package verify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoSignature means the message carried a scoring payload header
	// with no accompanying signature header; unsigned payloads are
	// dropped with an error log.
	ErrNoSignature = errors.New("verify: scoring payload present without signature")
	// ErrBadSignature means the signature did not verify against the
	// configured public key.
	ErrBadSignature = errors.New("verify: signature does not match payload")
)

// Verifier holds the Policy server's RSA public key, loaded once at
// startup and read-only thereafter.
type Verifier struct {
	pub *rsa.PublicKey
}

// LoadPublicKey reads a PEM-encoded RSA public key from path. A missing or
// unreadable key is a fatal startup error.
func LoadPublicKey(path string) (*Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verify: read public key %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("verify: %s is not PEM-encoded", path)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Fall back to PKCS1, the format RSA keys are most often
		// distributed in outside of a full x509 certificate chain.
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("verify: parse public key %s: %w", path, err)
		}
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		if k, ok2 := key.(rsa.PublicKey); ok2 {
			pub = &k
		} else {
			return nil, fmt.Errorf("verify: %s does not hold an RSA public key", path)
		}
	}

	return &Verifier{pub: pub}, nil
}

// Verify checks payloadB64 against sigB64 (both base64, as carried on the
// wire by X-Decency-Scoring / X-Decency-Scoring-Signature). On success it
// returns the decoded payload bytes for the caller to unmarshal into a
// score.
func (v *Verifier) Verify(payloadB64, sigB64 string) ([]byte, error) {
	if sigB64 == "" {
		return nil, ErrNoSignature
	}

	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("verify: decode payload: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("verify: decode signature: %w", err)
	}

	hashed := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, hashed[:], sig); err != nil {
		return nil, ErrBadSignature
	}
	return payload, nil
}

// Sign is provided for symmetry with the Policy server side (and for
// tests constructing a signed header end to end); the Content Filter
// itself never signs, only verifies.
func Sign(priv *rsa.PrivateKey, payload []byte) (string, error) {
	hashed := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hashed[:])
	if err != nil {
		return "", fmt.Errorf("verify: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
