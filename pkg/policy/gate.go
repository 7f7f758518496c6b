// Package policy gates verification issuance on the asset's live state.
//
// The gate and the ingest transaction run separately. That is safe:
// freeze and revoke are themselves chain entries, so a freeze racing a
// grant serializes behind the same chain lock and the later rebuild
// settles the outcome.
package policy

import (
	"context"
	"log/slog"

	"github.com/veristone/provenance-core/pkg/ledger"
	"github.com/veristone/provenance-core/pkg/verification"
)

// Gate wraps ingestion with the issuance policy: no new verification
// grant for a frozen or revoked asset.
type Gate struct {
	ingest   *ledger.Service
	verifier *verification.Service
	registry *ledger.Registry
	log      *slog.Logger
}

func NewGate(ingest *ledger.Service, verifier *verification.Service, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		ingest:   ingest,
		verifier: verifier,
		registry: ingest.Registry(),
		log:      logger,
	}
}

// CheckIssuance replays the asset's history and rejects issuance for
// frozen or revoked assets.
func (g *Gate) CheckIssuance(ctx context.Context, assetID string) error {
	derived, err := g.verifier.Compute(ctx, assetID)
	if err != nil {
		return err
	}
	switch derived.Status {
	case verification.StatusFrozen:
		return ledger.E(ledger.CodeAssetFrozen, "asset %s is frozen; issuance denied", assetID)
	case verification.StatusRevoked:
		return ledger.E(ledger.CodeAssetRevoked, "asset %s is revoked; issuance denied", assetID)
	default:
		return nil
	}
}

// Submit ingests an event, applying the issuance gate first when the
// event is a verification grant. Non-grant events pass straight through.
func (g *Gate) Submit(ctx context.Context, in ledger.IngestInput) (*ledger.IngestResult, error) {
	canonicalType, err := g.registry.Resolve(in.EventType)
	if err != nil {
		return nil, err
	}
	if g.registry.Semantic(canonicalType) == ledger.SemanticGrant {
		if err := g.CheckIssuance(ctx, in.Subject.AssetID); err != nil {
			g.log.Warn("issuance_denied",
				slog.String("asset_id", in.Subject.AssetID),
				slog.String("event_id", in.EventID),
				slog.String("code", string(ledger.CodeOf(err))))
			return nil, err
		}
	}
	return g.ingest.Ingest(ctx, in)
}
