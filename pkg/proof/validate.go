package proof

import (
	"time"

	"github.com/veristone/provenance-core/pkg/verification"
)

// Validation reason codes, in the order the checks run.
const (
	ReasonProofRevoked   = "PROOF_REVOKED"
	ReasonProofExpired   = "PROOF_EXPIRED"
	ReasonInvalidated    = "INVALIDATED"
	ReasonNotActiveGrant = "NOT_ACTIVE_GRANT"
)

// Verdict is the outcome of validating one proof view.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks a proof view against the asset's current derived state.
// Pure function; the check order is part of the contract, so a revoked
// and expired proof always reports PROOF_REVOKED.
func Validate(view View, now time.Time, derived verification.DerivedState) (Verdict, error) {
	if view.RevokedAt != nil {
		return Verdict{Reason: ReasonProofRevoked}, nil
	}
	if !now.Before(view.ExpiresAt) {
		return Verdict{Reason: ReasonProofExpired}, nil
	}
	if derived.Status != verification.StatusVerifiedActive {
		return Verdict{Reason: ReasonInvalidated}, nil
	}
	if derived.LastVerificationEventID != view.VerificationEventID {
		return Verdict{Reason: ReasonNotActiveGrant}, nil
	}

	current, err := SnapshotHash(derived.AssetStateHashCurrent, derived.EvidenceSetHashCurrent)
	if err != nil {
		return Verdict{}, err
	}
	if current != view.SnapshotHash {
		return Verdict{Reason: ReasonInvalidated}, nil
	}
	return Verdict{OK: true}, nil
}
