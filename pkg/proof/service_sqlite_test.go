package proof

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veristone/provenance-core/pkg/crypto"
	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/verification"
	_ "modernc.org/sqlite"
)

var proofDBCounter int
var proofDBCounterMu sync.Mutex

type fixture struct {
	ingest *ledger.Service
	proofs *Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	proofDBCounterMu.Lock()
	proofDBCounter++
	n := proofDBCounter
	proofDBCounterMu.Unlock()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:proof_test_%d?mode=memory&cache=shared", n))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	entries := ledger.NewStore(db, ledger.DialectSQLite)
	require.NoError(t, entries.Init(ctx))
	states := verification.NewStateStore(db, ledger.DialectSQLite)
	require.NoError(t, states.Init(ctx))
	views := NewStore(db, ledger.DialectSQLite)
	require.NoError(t, views.Init(ctx))

	signer, err := crypto.NewEd25519Signer("proof-test-seed")
	require.NoError(t, err)
	registry := ledger.NewRegistry()

	f := &fixture{
		ingest: ledger.NewService(entries, signer, registry, slog.Default()),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	verifier := verification.NewService(entries, states, registry, slog.Default())
	f.proofs = NewService(views, entries, registry, verifier, slog.Default()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) append(t *testing.T, eventID, eventType string, payload map[string]interface{}) {
	t.Helper()
	_, err := f.ingest.Ingest(context.Background(), ledger.IngestInput{
		EventID:       eventID,
		Source:        "test-producer",
		SchemaVersion: "1.0.0",
		EventType:     eventType,
		Subject:       ledger.Subject{AssetID: "asset-1"},
		Payload:       payload,
	})
	require.NoError(t, err)
}

func (f *fixture) grant(t *testing.T, eventID string) {
	t.Helper()
	f.append(t, eventID, ledger.EventVerificationGranted, map[string]interface{}{
		"asset_state_hash":  "state-a",
		"evidence_set_hash": "evid-a",
	})
}

func TestIssueAndValidateLiveProof(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant")

	view, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-grant",
		TTL:                 time.Hour,
		CreatedBy:           "operator-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "asset-1", view.AssetID)
	assert.Equal(t, f.now.Add(time.Hour), view.ExpiresAt)

	wantSnapshot, err := SnapshotHash("state-a", "evid-a")
	require.NoError(t, err)
	assert.Equal(t, wantSnapshot, view.SnapshotHash)

	_, verdict, err := f.proofs.Check(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.True(t, verdict.OK)
}

func TestIssueRequiresGrantEvent(t *testing.T) {
	f := newFixture(t)
	f.append(t, "evt-reg", ledger.EventAssetRegistered, map[string]interface{}{"label": "amulet"})

	_, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-reg",
		TTL:                 time.Hour,
	})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeValidationFailed, ledger.CodeOf(err))
}

func TestIssueRequiresPositiveTTL(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant")

	_, err := f.proofs.Issue(context.Background(), IssueInput{VerificationEventID: "evt-grant"})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeValidationFailed, ledger.CodeOf(err))
}

func TestIssueUnknownGrantFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-missing",
		TTL:                 time.Hour,
	})
	require.Error(t, err)
	assert.Equal(t, ledger.CodeValidationFailed, ledger.CodeOf(err))
}

func TestValidateAfterMutationReportsInvalidated(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant")

	view, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-grant", TTL: time.Hour,
	})
	require.NoError(t, err)

	f.append(t, "evt-update", ledger.EventAssetClaimUpdated,
		map[string]interface{}{"asset_state_hash": "state-b"})

	_, verdict, err := f.proofs.Check(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.False(t, verdict.OK)
	assert.Equal(t, ReasonInvalidated, verdict.Reason)
}

func TestValidateAfterRegrantReportsNotActiveGrant(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant-1")

	view, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-grant-1", TTL: time.Hour,
	})
	require.NoError(t, err)

	f.grant(t, "evt-grant-2")

	_, verdict, err := f.proofs.Check(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotActiveGrant, verdict.Reason)
}

func TestValidateExpiredProof(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant")

	view, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-grant", TTL: time.Hour,
	})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour) // now == expires_at is already expired

	_, verdict, err := f.proofs.Check(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.Equal(t, ReasonProofExpired, verdict.Reason)
}

func TestRevokeIsPermanentAndIdempotent(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "evt-grant")

	view, err := f.proofs.Issue(context.Background(), IssueInput{
		VerificationEventID: "evt-grant", TTL: time.Hour,
	})
	require.NoError(t, err)

	revoked, err := f.proofs.Revoke(context.Background(), view.ProofID)
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	firstStamp := *revoked.RevokedAt

	f.now = f.now.Add(time.Minute)
	again, err := f.proofs.Revoke(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.True(t, firstStamp.Equal(*again.RevokedAt))

	_, verdict, err := f.proofs.Check(context.Background(), view.ProofID)
	require.NoError(t, err)
	assert.Equal(t, ReasonProofRevoked, verdict.Reason)
}

func TestCheckUnknownProofReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.proofs.Check(context.Background(), "proof-missing")
	assert.ErrorIs(t, err, ErrProofNotFound)
}
