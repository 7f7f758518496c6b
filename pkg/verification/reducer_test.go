package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veristone/provenance-core/pkg/ledger"
)

func grantEntry(eventID, stateHash, evidenceHash string) ledger.Entry {
	return ledger.Entry{
		EventID:         eventID,
		EventType:       ledger.EventVerificationGranted,
		Subject:         ledger.Subject{AssetID: "asset-1"},
		AssetStateHash:  stateHash,
		EvidenceSetHash: evidenceHash,
	}
}

func TestReduceEmptyHistoryIsNone(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", nil)
	assert.Equal(t, StatusNone, state.Status)
	assert.Empty(t, state.ReasonCode)
	assert.Empty(t, state.LastVerificationEventID)
}

func TestReduceGrantActivates(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
	})
	assert.Equal(t, StatusVerifiedActive, state.Status)
	assert.Equal(t, "evt-grant", state.LastVerificationEventID)
	assert.Equal(t, "state-a", state.AssetStateHashCurrent)
	assert.Equal(t, "evid-a", state.EvidenceSetHashCurrent)
}

func TestReduceClaimMutationInvalidates(t *testing.T) {
	registry := ledger.NewRegistry()
	state := Reduce(registry, "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:        "evt-update",
			EventType:      ledger.EventAssetClaimUpdated,
			Subject:        ledger.Subject{AssetID: "asset-1"},
			AssetStateHash: "state-b",
		},
	})
	assert.Equal(t, StatusInvalidated, state.Status)
	assert.Equal(t, ReasonStateHashMismatch, state.ReasonCode)
	// The last grant stays attributable even after invalidation.
	assert.Equal(t, "evt-grant", state.LastVerificationEventID)
	assert.Equal(t, "state-b", state.AssetStateHashCurrent)
}

func TestReduceClaimUpdateMatchingGrantStaysActive(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:        "evt-noop",
			EventType:      ledger.EventAssetClaimUpdated,
			Subject:        ledger.Subject{AssetID: "asset-1"},
			AssetStateHash: "state-a",
		},
	})
	assert.Equal(t, StatusVerifiedActive, state.Status)
	assert.Empty(t, state.ReasonCode)
}

func TestReduceEvidenceChangeInvalidates(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:         "evt-evidence",
			EventType:       ledger.EventEvidenceAdded,
			Subject:         ledger.Subject{AssetID: "asset-1"},
			EvidenceSetHash: "evid-b",
		},
	})
	assert.Equal(t, StatusInvalidated, state.Status)
	assert.Equal(t, ReasonStateHashMismatch, state.ReasonCode)
}

func TestReduceRegrantAfterInvalidationReactivates(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant-1", "state-a", "evid-a"),
		{
			EventID:        "evt-update",
			EventType:      ledger.EventAssetClaimUpdated,
			Subject:        ledger.Subject{AssetID: "asset-1"},
			AssetStateHash: "state-b",
		},
		grantEntry("evt-grant-2", "state-b", "evid-a"),
	})
	assert.Equal(t, StatusVerifiedActive, state.Status)
	assert.Empty(t, state.ReasonCode)
	assert.Equal(t, "evt-grant-2", state.LastVerificationEventID)
}

func TestReduceFreezeOverridesActive(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:   "evt-freeze",
			EventType: ledger.EventEvidenceFrozen,
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
	})
	assert.Equal(t, StatusFrozen, state.Status)
	assert.Equal(t, ReasonEvidenceFrozen, state.ReasonCode)
}

func TestReduceRevokeIsTerminal(t *testing.T) {
	entries := []ledger.Entry{
		grantEntry("evt-grant-1", "state-a", "evid-a"),
		{
			EventID:   "evt-revoke",
			EventType: ledger.EventVerificationRevoked,
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
		// Neither a freeze nor a fresh grant clears a revocation... except
		// a grant, which deliberately re-verifies. Freeze must not.
		{
			EventID:   "evt-freeze",
			EventType: ledger.EventEvidenceFrozen,
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
	}
	state := Reduce(ledger.NewRegistry(), "asset-1", entries)
	assert.Equal(t, StatusRevoked, state.Status)
	assert.Equal(t, ReasonVerificationRevoked, state.ReasonCode)
}

func TestReduceUnknownEventTypesAreInert(t *testing.T) {
	state := Reduce(ledger.NewRegistry(), "asset-1", []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:   "evt-shipment",
			EventType: ledger.EventShipmentDispatched,
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
		{
			EventID:   "evt-custom",
			EventType: "SOME_FUTURE_EVENT",
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
	})
	assert.Equal(t, StatusVerifiedActive, state.Status)
}

func TestReduceIsDeterministic(t *testing.T) {
	registry := ledger.NewRegistry()
	entries := []ledger.Entry{
		grantEntry("evt-grant", "state-a", "evid-a"),
		{
			EventID:         "evt-evidence",
			EventType:       ledger.EventEvidenceRemoved,
			Subject:         ledger.Subject{AssetID: "asset-1"},
			EvidenceSetHash: "evid-b",
		},
	}
	first := Reduce(registry, "asset-1", entries)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Reduce(registry, "asset-1", entries))
	}
}

// Feeding entries one at a time must land in the same state as reducing
// the full slice; a log replay never needs the whole history in memory.
func TestIncrementalApplyMatchesReduce(t *testing.T) {
	registry := ledger.NewRegistry()
	entries := []ledger.Entry{
		grantEntry("evt-grant-1", "state-a", "evid-a"),
		{
			EventID:        "evt-update",
			EventType:      ledger.EventAssetClaimUpdated,
			Subject:        ledger.Subject{AssetID: "asset-1"},
			AssetStateHash: "state-b",
		},
		grantEntry("evt-grant-2", "state-b", "evid-a"),
		{
			EventID:         "evt-evidence",
			EventType:       ledger.EventEvidenceAdded,
			Subject:         ledger.Subject{AssetID: "asset-1"},
			EvidenceSetHash: "evid-b",
		},
		{
			EventID:   "evt-freeze",
			EventType: ledger.EventEvidenceFrozen,
			Subject:   ledger.Subject{AssetID: "asset-1"},
		},
	}

	for cut := 0; cut <= len(entries); cut++ {
		red := NewReduction(registry, "asset-1")
		for _, e := range entries[:cut] {
			red.Apply(e)
		}
		assert.Equal(t, Reduce(registry, "asset-1", entries[:cut]), red.State())
	}
}
