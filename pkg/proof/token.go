package proof

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/veristone/provenance-core/pkg/crypto"
)

// TokenClaims is the JWT payload of an exported proof view. Everything a
// relying party needs to re-check the proof against the live ledger.
type TokenClaims struct {
	ProofID             string `json:"proof_id"`
	AssetID             string `json:"asset_id"`
	VerificationEventID string `json:"verification_event_id"`
	SnapshotHash        string `json:"snapshot_hash"`
	RulesetVersion      string `json:"ruleset_version"`
	jwt.RegisteredClaims
}

// ExportToken renders a proof view as a compact EdDSA JWT. The token is a
// portable reference, not an authorization: holders are expected to call
// the validate endpoint, which replays the chain.
func ExportToken(view View, signer *crypto.Ed25519Signer) (string, error) {
	claims := TokenClaims{
		ProofID:             view.ProofID,
		AssetID:             view.AssetID,
		VerificationEventID: view.VerificationEventID,
		SnapshotHash:        view.SnapshotHash,
		RulesetVersion:      view.RulesetVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "provenance-core",
			Subject:   view.AssetID,
			IssuedAt:  jwt.NewNumericDate(view.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(view.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = signer.KeyID()

	signed, err := token.SignedString(signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("proof: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an exported token's signature and expiry and returns
// its claims.
func ParseToken(tokenStr string, pub ed25519.PublicKey, now time.Time) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodEdDSA {
				return nil, fmt.Errorf("proof: unexpected signing method %s", t.Method.Alg())
			}
			return pub, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("proof: parse token: %w", err)
	}
	return claims, nil
}
