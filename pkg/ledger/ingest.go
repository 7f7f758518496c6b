package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/veristone/provenance-core/pkg/canonical"
	"github.com/veristone/provenance-core/pkg/crypto"
)

// Service is the canonical ingestion path. Every write acquires the
// process-wide chain lock, so at most one ingest holds steps tip-read
// through insert at a time.
type Service struct {
	store    *Store
	signer   crypto.Signer
	registry *Registry
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(store *Store, signer crypto.Signer, registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		signer:   signer,
		registry: registry,
		log:      logger,
		clock:    time.Now,
	}
}

// WithClock overrides the commit timestamp source for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Store exposes the backing store for read-side collaborators.
func (s *Service) Store() *Store { return s.store }

// Registry exposes the event-type registry.
func (s *Service) Registry() *Registry { return s.registry }

// Ingest appends one event to the ledger. Retries are safe: the same
// event_id, the same (source, idempotency_key), or a lost insert race all
// return the originally committed identity with Deduped=true.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if err := s.validate(&in); err != nil {
		s.logOutcome("ingest_failed", in, nil, "", err)
		return nil, err
	}

	// Canonical payload bytes are pure; compute them before touching the
	// database.
	payloadBytes, err := canonical.Bytes(in.Payload)
	if err != nil {
		err = WrapErr(CodeValidationFailed, err, "payload is not canonicalizable")
		s.logOutcome("ingest_failed", in, nil, "", err)
		return nil, err
	}
	payloadHash := canonical.HashBytes(payloadBytes)
	if in.CanonicalHash != "" && in.CanonicalHash != payloadHash {
		err = E(CodeValidationFailed, "canonical_hash_hex %q does not match computed payload hash", in.CanonicalHash)
		s.logOutcome("ingest_failed", in, nil, "", err)
		return nil, err
	}

	result, err := s.ingestTx(ctx, in, payloadBytes, payloadHash)
	if err != nil {
		s.logOutcome("ingest_failed", in, nil, "", err)
		return nil, err
	}
	return result, nil
}

// ingestTx runs the serialized write transaction. The chain lock is held
// from acquisition until commit or rollback; on SQLite the stand-in mutex
// is released explicitly after the transaction ends.
func (s *Service) ingestTx(ctx context.Context, in IngestInput, payloadBytes []byte, payloadHash string) (*IngestResult, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, WrapErr(CodeWriteFailed, err, "begin transaction")
	}

	release, err := s.store.lockChain(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, WrapErr(CodeWriteFailed, err, "chain lock")
	}

	result, err := s.ingestLocked(ctx, tx, in, payloadBytes, payloadHash)
	if err != nil {
		_ = tx.Rollback()
		release()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		release()
		return nil, WrapErr(CodeWriteFailed, err, "commit")
	}
	release()
	return result, nil
}

func (s *Service) ingestLocked(ctx context.Context, tx *sql.Tx, in IngestInput, payloadBytes []byte, payloadHash string) (*IngestResult, error) {
	// Dedupe layer 1: event_id.
	if row, err := s.store.findByEventID(ctx, tx, in.EventID); err == nil {
		s.logOutcome("deduped_by_event_id", in, row, "", nil)
		return dedupedResult(row), nil
	} else if err != ErrEntryNotFound {
		return nil, WrapErr(CodeWriteFailed, err, "lookup by event_id")
	}

	// Dedupe layer 2: (source, idempotency_key).
	if in.IdempotencyKey != "" {
		if row, err := s.store.findByIdempotencyKey(ctx, tx, in.Source, in.IdempotencyKey); err == nil {
			s.logOutcome("deduped_by_idempotency_key", in, row, "", nil)
			return dedupedResult(row), nil
		} else if err != ErrEntryNotFound {
			return nil, WrapErr(CodeWriteFailed, err, "lookup by idempotency_key")
		}
	}

	tipSeq, tipHash, hasTip, err := s.store.tip(ctx, tx)
	if err != nil {
		return nil, WrapErr(CodeWriteFailed, err, "read tip")
	}
	nextSeq := int64(0)
	previousHash := ""
	if hasTip {
		nextSeq = tipSeq + 1
		previousHash = tipHash
	}

	entryHash, err := entryHashOf(previousHash, payloadHash, nextSeq, in.EventID)
	if err != nil {
		return nil, WrapErr(CodeWriteFailed, err, "compute entry hash")
	}

	prov, err := provenanceFromPayload(in.Payload, s.signer.KeyID())
	if err != nil {
		return nil, err
	}

	sig, err := s.signer.Sign(payloadBytes)
	if err != nil {
		return nil, WrapErr(CodeWriteFailed, err, "sign payload")
	}
	signatures := make(map[string]string, len(in.Signatures)+1)
	for k, v := range in.Signatures {
		signatures[k] = v
	}
	if _, supplied := signatures[ProviderSignatureName]; !supplied {
		signatures[ProviderSignatureName] = hex.EncodeToString(sig)
	}

	entry := &Entry{
		EventID:          in.EventID,
		SequenceNumber:   nextSeq,
		Source:           in.Source,
		EventType:        in.EventType,
		CorrelationID:    in.CorrelationID,
		Subject:          in.Subject,
		PayloadHash:      payloadHash,
		PreviousHash:     previousHash,
		EntryHash:        entryHash,
		Signatures:       signatures,
		SignatureKeyID:   prov.SignatureKeyID,
		IdempotencyKey:   in.IdempotencyKey,
		CanonicalHash:    in.CanonicalHash,
		SchemaVersion:    in.SchemaVersion,
		ProducerVer:      in.ProducerVer,
		OccurredAt:       in.OccurredAt,
		CommittedAt:      s.clock().UTC(),
		RulesetVersion:   prov.RulesetVersion,
		AssetStateHash:   prov.AssetStateHash,
		EvidenceSetHash:  prov.EvidenceSetHash,
		VerificationTier: prov.VerificationTier,
	}

	inserted, err := s.store.insertEntry(ctx, tx, entry, payloadBytes)
	if err != nil {
		return nil, WrapErr(CodeWriteFailed, err, "insert entry")
	}
	if !inserted {
		// Lost the unique-constraint race despite the chain lock. The
		// winner's row is authoritative.
		row, err := s.store.findByIdempotencyKey(ctx, tx, in.Source, in.IdempotencyKey)
		if err != nil {
			return nil, WrapErr(CodeWriteFailed, err, "refetch after conflict")
		}
		s.logOutcome("deduped_by_conflict", in, row, "", nil)
		return dedupedResult(row), nil
	}

	committed := &Committed{
		SequenceNumber: entry.SequenceNumber,
		EntryHash:      entry.EntryHash,
		CommittedAt:    entry.CommittedAt,
	}
	s.logOutcome("ingest_success", in, committed, previousHash, nil)
	return &IngestResult{
		Deduped:        false,
		SequenceNumber: entry.SequenceNumber,
		EntryHash:      entry.EntryHash,
		CommittedAt:    entry.CommittedAt,
	}, nil
}

func dedupedResult(row *Committed) *IngestResult {
	return &IngestResult{
		Deduped:        true,
		SequenceNumber: row.SequenceNumber,
		EntryHash:      row.EntryHash,
		CommittedAt:    row.CommittedAt,
	}
}

func (s *Service) validate(in *IngestInput) error {
	if in.EventID == "" {
		return E(CodeValidationFailed, "event_id is required")
	}
	if in.Source == "" {
		return E(CodeValidationFailed, "source is required")
	}
	if in.Subject.AssetID == "" {
		return E(CodeValidationFailed, "subject.asset_id is required")
	}
	if in.Payload == nil {
		return E(CodeValidationFailed, "payload is required")
	}
	if err := s.registry.CheckSchemaVersion(in.SchemaVersion); err != nil {
		return err
	}
	canonicalType, err := s.registry.Resolve(in.EventType)
	if err != nil {
		return err
	}
	in.EventType = canonicalType
	return nil
}

func (s *Service) logOutcome(outcome string, in IngestInput, row *Committed, previousHash string, err error) {
	attrs := []interface{}{
		slog.String("client_id", in.Source),
		slog.String("event_id", in.EventID),
	}
	if row != nil {
		attrs = append(attrs, slog.Int64("sequence_number", row.SequenceNumber))
		attrs = append(attrs, slog.String("attempted_hash", row.EntryHash))
	}
	if previousHash != "" {
		attrs = append(attrs, slog.String("previous_hash", previousHash))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		s.log.Error(outcome, attrs...)
		return
	}
	s.log.Info(outcome, attrs...)
}
