// Package proof issues and validates proof views: portable snapshots of a
// verification grant that third parties can check against the live ledger.
//
// A proof view never carries authority of its own. Validation always
// replays the asset's history, so a proof is exactly as trustworthy as
// the chain behind it.
package proof

import (
	"time"

	"github.com/veristone/provenance-core/pkg/canonical"
)

// View is a stored proof of a specific verification grant.
type View struct {
	ProofID             string                 `json:"proof_id"`
	AssetID             string                 `json:"asset_id"`
	VerificationEventID string                 `json:"verification_event_id"`
	SnapshotHash        string                 `json:"snapshot_hash"`
	AssetStateHash      string                 `json:"asset_state_hash"`
	EvidenceSetHash     string                 `json:"evidence_set_hash"`
	RulesetVersion      string                 `json:"ruleset_version"`
	Scope               map[string]interface{} `json:"scope,omitempty"`
	CreatedBy           string                 `json:"created_by,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	ExpiresAt           time.Time              `json:"expires_at"`
	RevokedAt           *time.Time             `json:"revoked_at,omitempty"`
}

// SnapshotHash binds the grant's recorded hashes into the identifier a
// validator later recomputes from live derived state.
func SnapshotHash(assetStateHash, evidenceSetHash string) (string, error) {
	return canonical.Hash(map[string]interface{}{
		"asset_state_hash":  assetStateHash,
		"evidence_set_hash": evidenceSetHash,
	})
}
