package policy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veristone/provenance-core/pkg/crypto"
	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/verification"
	_ "modernc.org/sqlite"
)

var gateDBCounter int
var gateDBCounterMu sync.Mutex

func newGateFixture(t *testing.T) (*Gate, *ledger.Store) {
	t.Helper()
	gateDBCounterMu.Lock()
	gateDBCounter++
	n := gateDBCounter
	gateDBCounterMu.Unlock()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:gate_test_%d?mode=memory&cache=shared", n))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	entries := ledger.NewStore(db, ledger.DialectSQLite)
	require.NoError(t, entries.Init(ctx))
	states := verification.NewStateStore(db, ledger.DialectSQLite)
	require.NoError(t, states.Init(ctx))

	signer, err := crypto.NewEd25519Signer("gate-test-seed")
	require.NoError(t, err)
	registry := ledger.NewRegistry()

	ingest := ledger.NewService(entries, signer, registry, slog.Default())
	verifier := verification.NewService(entries, states, registry, slog.Default())
	return NewGate(ingest, verifier, slog.Default()), entries
}

func submit(t *testing.T, gate *Gate, eventID, eventType string, payload map[string]interface{}) (*ledger.IngestResult, error) {
	t.Helper()
	return gate.Submit(context.Background(), ledger.IngestInput{
		EventID:       eventID,
		Source:        "test-producer",
		SchemaVersion: "1.0.0",
		EventType:     eventType,
		Subject:       ledger.Subject{AssetID: "asset-1"},
		Payload:       payload,
	})
}

func TestGateAllowsGrantOnHealthyAsset(t *testing.T) {
	gate, _ := newGateFixture(t)

	_, err := submit(t, gate, "evt-reg", ledger.EventAssetRegistered,
		map[string]interface{}{"label": "amulet"})
	require.NoError(t, err)

	res, err := submit(t, gate, "evt-grant", ledger.EventVerificationGranted,
		map[string]interface{}{"asset_state_hash": "state-a", "evidence_set_hash": "evid-a"})
	require.NoError(t, err)
	assert.False(t, res.Deduped)
}

func TestGateBlocksGrantOnFrozenAsset(t *testing.T) {
	gate, entries := newGateFixture(t)

	_, err := submit(t, gate, "evt-freeze", ledger.EventEvidenceFrozen, nil)
	require.NoError(t, err)

	_, err = submit(t, gate, "evt-grant", ledger.EventVerificationGranted,
		map[string]interface{}{"asset_state_hash": "state-a"})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeAssetFrozen, ledger.CodeOf(err))

	// Nothing was appended.
	_, err = entries.GetByEventID(context.Background(), "evt-grant")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestGateBlocksGrantOnRevokedAsset(t *testing.T) {
	gate, entries := newGateFixture(t)

	_, err := submit(t, gate, "evt-grant-1", ledger.EventVerificationGranted,
		map[string]interface{}{"asset_state_hash": "state-a"})
	require.NoError(t, err)
	_, err = submit(t, gate, "evt-revoke", ledger.EventVerificationRevoked, nil)
	require.NoError(t, err)

	_, err = submit(t, gate, "evt-grant-2", ledger.EventVerificationGranted,
		map[string]interface{}{"asset_state_hash": "state-b"})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeAssetRevoked, ledger.CodeOf(err))

	_, err = entries.GetByEventID(context.Background(), "evt-grant-2")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestGatePassesNonGrantEventsOnFrozenAsset(t *testing.T) {
	gate, _ := newGateFixture(t)

	_, err := submit(t, gate, "evt-freeze", ledger.EventEvidenceFrozen, nil)
	require.NoError(t, err)

	// Custody movements still record against a frozen asset.
	_, err = submit(t, gate, "evt-custody", ledger.EventCustodyTransferred,
		map[string]interface{}{"to": "vault-9"})
	assert.NoError(t, err)
}

func TestGateResolvesGrantAliases(t *testing.T) {
	gate, _ := newGateFixture(t)

	_, err := submit(t, gate, "evt-freeze", ledger.EventEvidenceFrozen, nil)
	require.NoError(t, err)

	// Legacy alias for VERIFICATION_GRANTED must hit the same gate.
	_, err = submit(t, gate, "evt-grant", "VERIFICATION_ISSUED",
		map[string]interface{}{"asset_state_hash": "state-a"})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeAssetFrozen, ledger.CodeOf(err))
}

func TestGateRejectsUnknownEventType(t *testing.T) {
	gate, _ := newGateFixture(t)
	_, err := submit(t, gate, "evt-x", "TOTALLY_UNKNOWN_EVENT", nil)
	require.Error(t, err)
	assert.Equal(t, ledger.CodeUnrecognizedEventType, ledger.CodeOf(err))
}
