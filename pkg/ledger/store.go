package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/veristone/provenance-core/pkg/canonical"
)

// Dialect selects the SQL flavor of the backing database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ErrEntryNotFound is returned by point lookups when no row matches.
var ErrEntryNotFound = errors.New("ledger: entry not found")

// Chain lock identity. The two int32 halves key the Postgres advisory
// lock that serializes every ledger write.
var (
	chainLockClass = int32(binary.BigEndian.Uint32([]byte("PRVN")))
	chainLockName  = int32(binary.BigEndian.Uint32([]byte("LEDG")))
)

// Store persists ledger entries. Postgres is the production backend;
// SQLite serves dev mode and tests, with the advisory lock replaced by an
// in-process mutex.
type Store struct {
	db      *sql.DB
	dialect Dialect
	chainMu sync.Mutex // stands in for the advisory lock on SQLite
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB { return s.db }

const pgLedgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	sequence_number BIGINT NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	correlation_id TEXT,
	asset_id TEXT NOT NULL,
	anchor_id TEXT,
	actor_id TEXT,
	subject_json TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	previous_hash TEXT,
	entry_hash TEXT NOT NULL,
	signatures_json TEXT,
	signature_key_id TEXT,
	idempotency_key TEXT,
	canonical_hash_hex TEXT,
	schema_version TEXT NOT NULL,
	producer_version TEXT,
	occurred_at TEXT,
	committed_at TEXT NOT NULL,
	ruleset_version TEXT NOT NULL,
	asset_state_hash TEXT,
	evidence_set_hash TEXT,
	verification_tier TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_seq
	ON ledger_entries (sequence_number);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_idem
	ON ledger_entries (source, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS ledger_entries_asset
	ON ledger_entries (asset_id, sequence_number);

CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $fn$
BEGIN
	RAISE EXCEPTION 'ledger entries are append-only';
END
$fn$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS ledger_entries_no_mutation ON ledger_entries;
CREATE TRIGGER ledger_entries_no_mutation
	BEFORE UPDATE OR DELETE ON ledger_entries
	FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable();
`

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	sequence_number INTEGER NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	correlation_id TEXT,
	asset_id TEXT NOT NULL,
	anchor_id TEXT,
	actor_id TEXT,
	subject_json TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	previous_hash TEXT,
	entry_hash TEXT NOT NULL,
	signatures_json TEXT,
	signature_key_id TEXT,
	idempotency_key TEXT,
	canonical_hash_hex TEXT,
	schema_version TEXT NOT NULL,
	producer_version TEXT,
	occurred_at TEXT,
	committed_at TEXT NOT NULL,
	ruleset_version TEXT NOT NULL,
	asset_state_hash TEXT,
	evidence_set_hash TEXT,
	verification_tier TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_seq
	ON ledger_entries (sequence_number);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_idem
	ON ledger_entries (source, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS ledger_entries_asset
	ON ledger_entries (asset_id, sequence_number);

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
	BEFORE UPDATE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;
CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
	BEFORE DELETE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;
`

// Init creates the entry table, its unique and partial indexes, and the
// append-only triggers.
func (s *Store) Init(ctx context.Context) error {
	schema := pgLedgerSchema
	if s.dialect == DialectSQLite {
		schema = sqliteLedgerSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

// Rebind converts $N placeholders to ? for SQLite. Collaborating stores
// (derived state, proof views) share it.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			continue
		}
		b.WriteByte('?')
		i = j - 1
	}
	return b.String()
}

func (s *Store) rebind(query string) string { return Rebind(s.dialect, query) }

// lockChain serializes the write path. On Postgres it takes the
// transaction-scoped advisory lock, released automatically on commit or
// rollback; on SQLite it holds a process mutex until release is called.
// The caller must invoke release after the transaction has ended.
func (s *Store) lockChain(ctx context.Context, tx *sql.Tx) (release func(), err error) {
	if s.dialect == DialectSQLite {
		s.chainMu.Lock()
		return s.chainMu.Unlock, nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1, $2)", chainLockClass, chainLockName); err != nil {
		return nil, fmt.Errorf("ledger: acquire chain lock: %w", err)
	}
	return func() {}, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Committed is the identity triple dedupe paths return.
type Committed struct {
	SequenceNumber int64
	EntryHash      string
	CommittedAt    time.Time
}

const committedColumns = "sequence_number, entry_hash, committed_at"

func scanCommitted(row *sql.Row) (*Committed, error) {
	var r Committed
	var committedAt string
	if err := row.Scan(&r.SequenceNumber, &r.EntryHash, &committedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, committedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: corrupt committed_at: %w", err)
	}
	r.CommittedAt = t
	return &r, nil
}

func (s *Store) findByEventID(ctx context.Context, q querier, eventID string) (*Committed, error) {
	row := q.QueryRowContext(ctx,
		s.rebind("SELECT "+committedColumns+" FROM ledger_entries WHERE id = $1"), eventID)
	return scanCommitted(row)
}

func (s *Store) findByIdempotencyKey(ctx context.Context, q querier, source, key string) (*Committed, error) {
	row := q.QueryRowContext(ctx,
		s.rebind("SELECT "+committedColumns+" FROM ledger_entries WHERE source = $1 AND idempotency_key = $2"),
		source, key)
	return scanCommitted(row)
}

// tip returns the entry with the greatest sequence number, or ok=false on
// an empty table.
func (s *Store) tip(ctx context.Context, q querier) (seq int64, entryHash string, ok bool, err error) {
	row := q.QueryRowContext(ctx,
		"SELECT sequence_number, entry_hash FROM ledger_entries ORDER BY sequence_number DESC LIMIT 1")
	if err := row.Scan(&seq, &entryHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", false, nil
		}
		return 0, "", false, err
	}
	return seq, entryHash, true, nil
}

const insertEntrySQL = `
INSERT INTO ledger_entries (
	id, sequence_number, source, event_type, correlation_id,
	asset_id, anchor_id, actor_id, subject_json,
	payload_json, payload_hash, previous_hash, entry_hash,
	signatures_json, signature_key_id, idempotency_key, canonical_hash_hex,
	schema_version, producer_version, occurred_at, committed_at,
	ruleset_version, asset_state_hash, evidence_set_hash, verification_tier
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9,
	$10, $11, $12, $13,
	$14, $15, $16, $17,
	$18, $19, $20, $21,
	$22, $23, $24, $25
)
ON CONFLICT (source, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING sequence_number`

// insertEntry writes the row. inserted=false means the partial unique
// index swallowed the write: another entry already owns
// (source, idempotency_key).
func (s *Store) insertEntry(ctx context.Context, tx *sql.Tx, e *Entry, payloadJSON []byte) (inserted bool, err error) {
	subjectJSON, err := json.Marshal(e.Subject)
	if err != nil {
		return false, fmt.Errorf("ledger: marshal subject: %w", err)
	}
	var signaturesJSON interface{}
	if len(e.Signatures) > 0 {
		b, err := json.Marshal(e.Signatures)
		if err != nil {
			return false, fmt.Errorf("ledger: marshal signatures: %w", err)
		}
		signaturesJSON = string(b)
	}

	var occurredAt interface{}
	if e.OccurredAt != nil {
		occurredAt = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, s.rebind(insertEntrySQL),
		e.EventID, e.SequenceNumber, e.Source, e.EventType, nullable(e.CorrelationID),
		e.Subject.AssetID, nullable(e.Subject.AnchorID), nullable(e.Subject.ActorID), string(subjectJSON),
		string(payloadJSON), e.PayloadHash, nullable(e.PreviousHash), e.EntryHash,
		signaturesJSON, nullable(e.SignatureKeyID), nullable(e.IdempotencyKey), nullable(e.CanonicalHash),
		e.SchemaVersion, nullable(e.ProducerVer), occurredAt, e.CommittedAt.UTC().Format(time.RFC3339Nano),
		e.RulesetVersion, nullable(e.AssetStateHash), nullable(e.EvidenceSetHash), nullable(e.VerificationTier),
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const entryColumns = `
	id, sequence_number, source, event_type, correlation_id,
	subject_json, payload_json, payload_hash, previous_hash, entry_hash,
	signatures_json, signature_key_id, idempotency_key, canonical_hash_hex,
	schema_version, producer_version, occurred_at, committed_at,
	ruleset_version, asset_state_hash, evidence_set_hash, verification_tier`

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var correlationID, subjectJSON, payloadJSON sql.NullString
	var signaturesJSON, signatureKeyID, idemKey, canonicalHash sql.NullString
	var producerVer, occurredAt sql.NullString
	var committedAt string
	var previousHash, assetStateHash, evidenceSetHash, tier sql.NullString

	if err := rows.Scan(
		&e.EventID, &e.SequenceNumber, &e.Source, &e.EventType, &correlationID,
		&subjectJSON, &payloadJSON, &e.PayloadHash, &previousHash, &e.EntryHash,
		&signaturesJSON, &signatureKeyID, &idemKey, &canonicalHash,
		&e.SchemaVersion, &producerVer, &occurredAt, &committedAt,
		&e.RulesetVersion, &assetStateHash, &evidenceSetHash, &tier,
	); err != nil {
		return nil, err
	}

	e.CorrelationID = correlationID.String
	e.PreviousHash = previousHash.String
	e.SignatureKeyID = signatureKeyID.String
	e.IdempotencyKey = idemKey.String
	e.CanonicalHash = canonicalHash.String
	e.ProducerVer = producerVer.String
	e.AssetStateHash = assetStateHash.String
	e.EvidenceSetHash = evidenceSetHash.String
	e.VerificationTier = tier.String

	if subjectJSON.Valid {
		if err := json.Unmarshal([]byte(subjectJSON.String), &e.Subject); err != nil {
			return nil, fmt.Errorf("ledger: corrupt subject_json: %w", err)
		}
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		// UseNumber keeps numeric payload fields bit-stable through a
		// decode/re-canonicalize round trip.
		dec := json.NewDecoder(bytes.NewReader([]byte(payloadJSON.String)))
		dec.UseNumber()
		if err := dec.Decode(&e.Payload); err != nil {
			return nil, fmt.Errorf("ledger: corrupt payload_json: %w", err)
		}
	}
	if signaturesJSON.Valid && signaturesJSON.String != "" {
		if err := json.Unmarshal([]byte(signaturesJSON.String), &e.Signatures); err != nil {
			return nil, fmt.Errorf("ledger: corrupt signatures_json: %w", err)
		}
	}
	if occurredAt.Valid && occurredAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, occurredAt.String)
		if err != nil {
			return nil, fmt.Errorf("ledger: corrupt occurred_at: %w", err)
		}
		e.OccurredAt = &t
	}
	t, err := time.Parse(time.RFC3339Nano, committedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: corrupt committed_at: %w", err)
	}
	e.CommittedAt = t

	return &e, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// GetByEventID loads a full committed entry.
func (s *Store) GetByEventID(ctx context.Context, eventID string) (*Entry, error) {
	entries, err := s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", eventID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return &entries[0], nil
}

// HistoryByAsset returns every committed entry concerning the asset in
// sequence order. This is the reducer's input.
func (s *Store) HistoryByAsset(ctx context.Context, assetID string) ([]Entry, error) {
	return s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE asset_id = $1 ORDER BY sequence_number ASC",
		assetID)
}

// ForEachBySequence streams the entire table in sequence order.
func (s *Store) ForEachBySequence(ctx context.Context, fn func(Entry) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY sequence_number ASC")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(*e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Tip returns the committed identity of the newest entry, or nil on an
// empty ledger.
func (s *Store) Tip(ctx context.Context) (*Committed, error) {
	seq, hash, ok, err := s.tip(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Committed{SequenceNumber: seq, EntryHash: hash}, nil
}

// ChainReport is the outcome of a full integrity walk.
type ChainReport struct {
	Entries      int64  `json:"entries"`
	OK           bool   `json:"ok"`
	BrokenAt     int64  `json:"broken_at,omitempty"`
	BrokenDetail string `json:"broken_detail,omitempty"`
	TipSequence  int64  `json:"tip_sequence"`
	TipEntryHash string `json:"tip_entry_hash,omitempty"`
}

// VerifyChain re-derives payload_hash and entry_hash for every committed
// row and checks each previous_hash link. Any divergence is corruption.
func (s *Store) VerifyChain(ctx context.Context) (*ChainReport, error) {
	report := &ChainReport{OK: true, TipSequence: -1}
	expectedSeq := int64(0)
	prevHash := ""

	err := s.ForEachBySequence(ctx, func(e Entry) error {
		if !report.OK {
			return nil
		}
		fail := func(detail string) {
			report.OK = false
			report.BrokenAt = e.SequenceNumber
			report.BrokenDetail = detail
		}

		if e.SequenceNumber != expectedSeq {
			fail(fmt.Sprintf("sequence gap: expected %d, got %d", expectedSeq, e.SequenceNumber))
			return nil
		}
		if e.PreviousHash != prevHash {
			fail("previous_hash does not match predecessor entry_hash")
			return nil
		}

		payloadHash, err := canonical.Hash(e.Payload)
		if err != nil {
			fail("payload is not canonicalizable: " + err.Error())
			return nil
		}
		if payloadHash != e.PayloadHash {
			fail("payload_hash mismatch")
			return nil
		}

		entryHash, err := entryHashOf(e.PreviousHash, e.PayloadHash, e.SequenceNumber, e.EventID)
		if err != nil {
			return err
		}
		if entryHash != e.EntryHash {
			fail("entry_hash mismatch")
			return nil
		}

		report.Entries++
		report.TipSequence = e.SequenceNumber
		report.TipEntryHash = e.EntryHash
		expectedSeq++
		prevHash = e.EntryHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// entryHashOf computes the chain link hash. previousHash is empty only at
// genesis, where the null token enters the hash input.
func entryHashOf(previousHash, payloadHash string, sequenceNumber int64, eventID string) (string, error) {
	var prev interface{}
	if previousHash != "" {
		prev = previousHash
	}
	return canonical.Hash(map[string]interface{}{
		"previous_hash":   prev,
		"payload_hash":    payloadHash,
		"sequence_number": sequenceNumber,
		"event_id":        eventID,
	})
}
