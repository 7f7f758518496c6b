// Package verification derives per-asset verification status from replay
// of the committed event log.
//
// The reducer is a pure function of the ordered entry list: the derived
// table and the Redis cache in front of it are disposable performance
// artifacts, never sources of truth.
package verification

import "github.com/veristone/provenance-core/pkg/ledger"

// Status is the derived verification state of an asset.
type Status string

const (
	StatusNone           Status = "NONE"
	StatusVerifiedActive Status = "VERIFIED_ACTIVE"
	StatusInvalidated    Status = "INVALIDATED"
	StatusFrozen         Status = "FROZEN"
	StatusRevoked        Status = "REVOKED"
)

// Reason codes recorded by the reducer for observability.
const (
	ReasonStateHashMismatch   = "STATE_HASH_MISMATCH"
	ReasonEvidenceFrozen      = "EVIDENCE_FROZEN"
	ReasonVerificationRevoked = "VERIFICATION_REVOKED"
)

// DerivedState is the reducer output for one asset.
type DerivedState struct {
	AssetID                 string `json:"asset_id"`
	Status                  Status `json:"status"`
	ReasonCode              string `json:"reason_code,omitempty"`
	LastVerificationEventID string `json:"last_verification_event_id,omitempty"`
	AssetStateHashCurrent   string `json:"asset_state_hash_current,omitempty"`
	EvidenceSetHashCurrent  string `json:"evidence_set_hash_current,omitempty"`
}

// Reduction folds one asset's events into its derived state one entry at
// a time, so callers replaying the whole log never hold an asset's full
// history in memory. Apply entries in sequence order; State is valid
// after any prefix.
type Reduction struct {
	registry *ledger.Registry
	state    DerivedState

	// Hashes recorded by the governing grant; mutations are judged
	// against these, not against each other.
	grantStateHash    string
	grantEvidenceHash string
}

func NewReduction(registry *ledger.Registry, assetID string) *Reduction {
	return &Reduction{
		registry: registry,
		state:    DerivedState{AssetID: assetID, Status: StatusNone},
	}
}

// State returns the derived state after the entries applied so far.
func (r *Reduction) State() DerivedState { return r.state }

// Apply folds the next committed event into the state machine.
func (r *Reduction) Apply(e ledger.Entry) {
	switch r.registry.Semantic(e.EventType) {
	case ledger.SemanticGrant:
		r.grantStateHash = e.AssetStateHash
		r.grantEvidenceHash = e.EvidenceSetHash
		r.state.AssetStateHashCurrent = e.AssetStateHash
		r.state.EvidenceSetHashCurrent = e.EvidenceSetHash
		r.state.Status = StatusVerifiedActive
		r.state.ReasonCode = ""
		r.state.LastVerificationEventID = e.EventID

	case ledger.SemanticClaimUpdate:
		if e.AssetStateHash != "" {
			r.state.AssetStateHashCurrent = e.AssetStateHash
		}
		if r.state.Status == StatusVerifiedActive && r.state.AssetStateHashCurrent != r.grantStateHash {
			r.state.Status = StatusInvalidated
			r.state.ReasonCode = ReasonStateHashMismatch
		}

	case ledger.SemanticEvidenceAdded, ledger.SemanticEvidenceRemoved:
		if e.EvidenceSetHash != "" {
			r.state.EvidenceSetHashCurrent = e.EvidenceSetHash
		}
		if e.AssetStateHash != "" {
			r.state.AssetStateHashCurrent = e.AssetStateHash
		}
		if r.state.Status == StatusVerifiedActive && r.state.EvidenceSetHashCurrent != r.grantEvidenceHash {
			r.state.Status = StatusInvalidated
			r.state.ReasonCode = ReasonStateHashMismatch
		}

	case ledger.SemanticFreeze:
		if r.state.Status != StatusRevoked {
			r.state.Status = StatusFrozen
			r.state.ReasonCode = ReasonEvidenceFrozen
		}

	case ledger.SemanticRevoke:
		// Terminal with respect to issuance; no event clears it.
		r.state.Status = StatusRevoked
		r.state.ReasonCode = ReasonVerificationRevoked
	}
}

// Reduce replays an asset's committed events, ordered by sequence number
// ascending, into its derived verification state. Deterministic: same
// input ordering, same output.
func Reduce(registry *ledger.Registry, assetID string, entries []ledger.Entry) DerivedState {
	r := NewReduction(registry, assetID)
	for _, e := range entries {
		r.Apply(e)
	}
	return r.State()
}
