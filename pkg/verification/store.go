package verification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/veristone/provenance-core/pkg/ledger"
)

// ErrStateNotFound is returned when no derived row exists for an asset.
var ErrStateNotFound = errors.New("verification: derived state not found")

// StateStore persists the rebuildable derived-state cache. Deliberately
// migration-free: on any schema or reducer change, truncate and rebuild.
type StateStore struct {
	db      *sql.DB
	dialect ledger.Dialect
}

func NewStateStore(db *sql.DB, dialect ledger.Dialect) *StateStore {
	return &StateStore{db: db, dialect: dialect}
}

const derivedSchema = `
CREATE TABLE IF NOT EXISTS derived_verification_state (
	asset_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	reason_code TEXT,
	last_verification_event_id TEXT,
	asset_state_hash_current TEXT,
	evidence_set_hash_current TEXT,
	updated_at TEXT NOT NULL
);
`

func (s *StateStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, derivedSchema); err != nil {
		return fmt.Errorf("verification: init schema: %w", err)
	}
	return nil
}

const upsertStateSQL = `
INSERT INTO derived_verification_state (
	asset_id, status, reason_code, last_verification_event_id,
	asset_state_hash_current, evidence_set_hash_current, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (asset_id) DO UPDATE SET
	status = $2,
	reason_code = $3,
	last_verification_event_id = $4,
	asset_state_hash_current = $5,
	evidence_set_hash_current = $6,
	updated_at = $7`

func (s *StateStore) Upsert(ctx context.Context, state DerivedState, at time.Time) error {
	_, err := s.db.ExecContext(ctx, ledger.Rebind(s.dialect, upsertStateSQL),
		state.AssetID, string(state.Status), nullable(state.ReasonCode),
		nullable(state.LastVerificationEventID),
		nullable(state.AssetStateHashCurrent), nullable(state.EvidenceSetHashCurrent),
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("verification: upsert state: %w", err)
	}
	return nil
}

const selectStateColumns = `
	asset_id, status, reason_code, last_verification_event_id,
	asset_state_hash_current, evidence_set_hash_current`

func (s *StateStore) Get(ctx context.Context, assetID string) (*DerivedState, error) {
	row := s.db.QueryRowContext(ctx, ledger.Rebind(s.dialect,
		"SELECT"+selectStateColumns+" FROM derived_verification_state WHERE asset_id = $1"), assetID)
	state, err := scanState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	return state, err
}

// All returns every derived row ordered by asset id, used by rebuild
// determinism checks and the admin surface.
func (s *StateStore) All(ctx context.Context) ([]DerivedState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+selectStateColumns+" FROM derived_verification_state ORDER BY asset_id ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]DerivedState, 0)
	for rows.Next() {
		state, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}
	return result, rows.Err()
}

// Truncate drops every derived row. Rebuild repopulates.
func (s *StateStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM derived_verification_state"); err != nil {
		return fmt.Errorf("verification: truncate: %w", err)
	}
	return nil
}

func scanState(scan func(...interface{}) error) (*DerivedState, error) {
	var state DerivedState
	var status string
	var reason, lastGrant, stateHash, evidenceHash sql.NullString
	if err := scan(&state.AssetID, &status, &reason, &lastGrant, &stateHash, &evidenceHash); err != nil {
		return nil, err
	}
	state.Status = Status(status)
	state.ReasonCode = reason.String
	state.LastVerificationEventID = lastGrant.String
	state.AssetStateHashCurrent = stateHash.String
	state.EvidenceSetHashCurrent = evidenceHash.String
	return &state, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
