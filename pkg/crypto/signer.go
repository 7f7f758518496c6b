// Package crypto provides the signing primitives the ledger uses to attest
// every ingested payload.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptySeed is returned when a deterministic signer is constructed
// without a seed. Outside of test environments this is a fatal
// configuration error.
var ErrEmptySeed = errors.New("crypto: signer seed must not be empty")

// Signer produces detached signatures over raw bytes under a stable key id.
type Signer interface {
	KeyID() string
	Sign(data []byte) ([]byte, error)
}

// Ed25519Signer signs with an Ed25519 keypair derived deterministically
// from a configured seed.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer derives the keypair from the seed: the Ed25519 seed is
// the SHA-256 of the configured seed string. The key id is
// "dev-ed25519:<hex SHA-256 of the SPKI public key>".
func NewEd25519Signer(seed string) (*Ed25519Signer, error) {
	if seed == "" {
		return nil, ErrEmptySeed
	}

	sum := sha256.Sum256([]byte(seed))
	priv := ed25519.NewKeyFromSeed(sum[:])
	pub := priv.Public().(ed25519.PublicKey)

	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal SPKI: %w", err)
	}
	spkiSum := sha256.Sum256(spki)

	return &Ed25519Signer{
		priv:  priv,
		pub:   pub,
		keyID: "dev-ed25519:" + hex.EncodeToString(spkiSum[:]),
	}, nil
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

// PublicKey returns the verifying half of the keypair.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// PrivateKey exposes the signing key for callers that need a concrete
// Ed25519 key, such as the proof token exporter. The key must not cross
// process boundaries.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// Verify checks a detached signature against a public key.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// VerifyHex checks a hex-encoded detached signature, the encoding the
// ledger stores under provider_sig.
func VerifyHex(pub ed25519.PublicKey, data []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	return Verify(pub, data, sig), nil
}
