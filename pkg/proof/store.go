package proof

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veristone/provenance-core/pkg/ledger"
)

// ErrProofNotFound is returned when no view exists for a proof id.
var ErrProofNotFound = errors.New("proof: view not found")

// Store persists proof views. Rows are append-mostly: the only mutation
// ever applied is stamping revoked_at, once.
type Store struct {
	db      *sql.DB
	dialect ledger.Dialect
}

func NewStore(db *sql.DB, dialect ledger.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

const proofSchema = `
CREATE TABLE IF NOT EXISTS proof_views (
	proof_id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	verification_event_id TEXT NOT NULL,
	snapshot_hash TEXT NOT NULL,
	asset_state_hash TEXT NOT NULL,
	evidence_set_hash TEXT NOT NULL,
	ruleset_version TEXT NOT NULL,
	scope_json TEXT,
	created_by TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	revoked_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_proof_views_asset ON proof_views (asset_id);
`

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, proofSchema); err != nil {
		return fmt.Errorf("proof: init schema: %w", err)
	}
	return nil
}

const insertViewSQL = `
INSERT INTO proof_views (
	proof_id, asset_id, verification_event_id, snapshot_hash,
	asset_state_hash, evidence_set_hash, ruleset_version,
	scope_json, created_by, created_at, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (s *Store) Insert(ctx context.Context, view View) error {
	var scopeJSON interface{}
	if len(view.Scope) > 0 {
		raw, err := json.Marshal(view.Scope)
		if err != nil {
			return fmt.Errorf("proof: encode scope: %w", err)
		}
		scopeJSON = string(raw)
	}
	_, err := s.db.ExecContext(ctx, ledger.Rebind(s.dialect, insertViewSQL),
		view.ProofID, view.AssetID, view.VerificationEventID, view.SnapshotHash,
		view.AssetStateHash, view.EvidenceSetHash, view.RulesetVersion,
		scopeJSON, nullableText(view.CreatedBy),
		view.CreatedAt.UTC().Format(time.RFC3339Nano),
		view.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("proof: insert view: %w", err)
	}
	return nil
}

const selectViewColumns = `
	proof_id, asset_id, verification_event_id, snapshot_hash,
	asset_state_hash, evidence_set_hash, ruleset_version,
	scope_json, created_by, created_at, expires_at, revoked_at`

func (s *Store) Get(ctx context.Context, proofID string) (*View, error) {
	row := s.db.QueryRowContext(ctx, ledger.Rebind(s.dialect,
		"SELECT"+selectViewColumns+" FROM proof_views WHERE proof_id = $1"), proofID)
	view, err := scanView(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProofNotFound
	}
	return view, err
}

// ByAsset lists an asset's proof views, newest first.
func (s *Store) ByAsset(ctx context.Context, assetID string) ([]View, error) {
	rows, err := s.db.QueryContext(ctx, ledger.Rebind(s.dialect,
		"SELECT"+selectViewColumns+" FROM proof_views WHERE asset_id = $1 ORDER BY created_at DESC"), assetID)
	if err != nil {
		return nil, fmt.Errorf("proof: list by asset: %w", err)
	}
	defer func() { _ = rows.Close() }()

	views := make([]View, 0)
	for rows.Next() {
		view, err := scanView(rows.Scan)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, rows.Err()
}

// Revoke stamps revoked_at once; repeated calls keep the first timestamp.
// Returns the view as stored after the call.
func (s *Store) Revoke(ctx context.Context, proofID string, at time.Time) (*View, error) {
	_, err := s.db.ExecContext(ctx, ledger.Rebind(s.dialect,
		"UPDATE proof_views SET revoked_at = $1 WHERE proof_id = $2 AND revoked_at IS NULL"),
		at.UTC().Format(time.RFC3339Nano), proofID)
	if err != nil {
		return nil, fmt.Errorf("proof: revoke: %w", err)
	}
	return s.Get(ctx, proofID)
}

func scanView(scan func(...interface{}) error) (*View, error) {
	var view View
	var scopeJSON, createdBy, revokedAt sql.NullString
	var createdAt, expiresAt string
	if err := scan(
		&view.ProofID, &view.AssetID, &view.VerificationEventID, &view.SnapshotHash,
		&view.AssetStateHash, &view.EvidenceSetHash, &view.RulesetVersion,
		&scopeJSON, &createdBy, &createdAt, &expiresAt, &revokedAt,
	); err != nil {
		return nil, err
	}
	view.CreatedBy = createdBy.String

	var err error
	if view.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("proof: parse created_at: %w", err)
	}
	if view.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("proof: parse expires_at: %w", err)
	}
	if revokedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("proof: parse revoked_at: %w", err)
		}
		view.RevokedAt = &t
	}
	if scopeJSON.Valid {
		if err := json.Unmarshal([]byte(scopeJSON.String), &view.Scope); err != nil {
			return nil, fmt.Errorf("proof: decode scope: %w", err)
		}
	}
	return &view, nil
}

func nullableText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
