package proof

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/verification"
)

// IssueInput requests a proof view over a committed verification grant.
type IssueInput struct {
	VerificationEventID string                 `json:"verification_event_id"`
	TTL                 time.Duration          `json:"-"`
	Scope               map[string]interface{} `json:"scope,omitempty"`
	CreatedBy           string                 `json:"created_by,omitempty"`
}

// Service issues, validates, and revokes proof views.
type Service struct {
	views    *Store
	entries  *ledger.Store
	registry *ledger.Registry
	verifier *verification.Service
	log      *slog.Logger
	clock    func() time.Time
	newID    func() string
}

func NewService(views *Store, entries *ledger.Store, registry *ledger.Registry, verifier *verification.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		views:    views,
		entries:  entries,
		registry: registry,
		verifier: verifier,
		log:      logger,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Issue snapshots the named grant into a new proof view. The grant's own
// recorded hashes are snapshotted, not the asset's live state: an already
// stale grant yields a proof that validation will immediately reject.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*View, error) {
	if in.VerificationEventID == "" {
		return nil, ledger.E(ledger.CodeValidationFailed, "verification_event_id is required")
	}
	if in.TTL <= 0 {
		return nil, ledger.E(ledger.CodeValidationFailed, "ttl must be positive")
	}

	grant, err := s.entries.GetByEventID(ctx, in.VerificationEventID)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return nil, ledger.E(ledger.CodeValidationFailed, "verification event %s not found", in.VerificationEventID)
		}
		return nil, ledger.WrapErr(ledger.CodeInternal, err, "load verification event")
	}
	if s.registry.Semantic(grant.EventType) != ledger.SemanticGrant {
		return nil, ledger.E(ledger.CodeValidationFailed,
			"event %s is %s, not a verification grant", grant.EventID, grant.EventType)
	}

	snapshot, err := SnapshotHash(grant.AssetStateHash, grant.EvidenceSetHash)
	if err != nil {
		return nil, ledger.WrapErr(ledger.CodeInternal, err, "compute snapshot hash")
	}

	now := s.clock().UTC()
	view := View{
		ProofID:             s.newID(),
		AssetID:             grant.Subject.AssetID,
		VerificationEventID: grant.EventID,
		SnapshotHash:        snapshot,
		AssetStateHash:      grant.AssetStateHash,
		EvidenceSetHash:     grant.EvidenceSetHash,
		RulesetVersion:      grant.RulesetVersion,
		Scope:               in.Scope,
		CreatedBy:           in.CreatedBy,
		CreatedAt:           now,
		ExpiresAt:           now.Add(in.TTL),
	}
	if err := s.views.Insert(ctx, view); err != nil {
		return nil, ledger.WrapErr(ledger.CodeWriteFailed, err, "store proof view")
	}

	s.log.Info("proof_issued",
		slog.String("proof_id", view.ProofID),
		slog.String("asset_id", view.AssetID),
		slog.String("verification_event_id", view.VerificationEventID),
		slog.Time("expires_at", view.ExpiresAt))
	return &view, nil
}

// Check loads a proof view and validates it against a live replay of the
// asset's history. The derived table and caches are deliberately bypassed.
func (s *Service) Check(ctx context.Context, proofID string) (*View, Verdict, error) {
	view, err := s.views.Get(ctx, proofID)
	if err != nil {
		return nil, Verdict{}, err
	}

	derived, err := s.verifier.Compute(ctx, view.AssetID)
	if err != nil {
		return nil, Verdict{}, err
	}

	verdict, err := Validate(*view, s.clock(), derived)
	if err != nil {
		return nil, Verdict{}, ledger.WrapErr(ledger.CodeInternal, err, "validate proof %s", proofID)
	}

	s.log.Info("proof_validated",
		slog.String("proof_id", proofID),
		slog.String("asset_id", view.AssetID),
		slog.Bool("ok", verdict.OK),
		slog.String("reason", verdict.Reason))
	return view, verdict, nil
}

// Revoke permanently invalidates a proof view. Idempotent: the first
// revocation timestamp sticks.
func (s *Service) Revoke(ctx context.Context, proofID string) (*View, error) {
	view, err := s.views.Revoke(ctx, proofID, s.clock())
	if err != nil {
		return nil, err
	}
	s.log.Info("proof_revoked",
		slog.String("proof_id", proofID),
		slog.String("asset_id", view.AssetID))
	return view, nil
}
