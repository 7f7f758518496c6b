package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veristone/provenance-core/pkg/ledger"
)

// RebuildResult reports a completed read-model rebuild.
type RebuildResult struct {
	OK            bool `json:"ok"`
	RebuiltAssets int  `json:"rebuilt_assets"`
}

// Rebuilder repopulates the derived-state table by full replay of the
// immutable log. Safe to run at startup, on demand, and after any
// reducer change.
type Rebuilder struct {
	entries  *ledger.Store
	states   *StateStore
	registry *ledger.Registry
	log      *slog.Logger
	clock    func() time.Time
}

func NewRebuilder(entries *ledger.Store, states *StateStore, registry *ledger.Registry, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		entries:  entries,
		states:   states,
		registry: registry,
		log:      logger,
		clock:    time.Now,
	}
}

// Rebuild truncates the derived table, streams the entire entry table in
// sequence order folding each entry into its asset's reduction as it
// arrives, and inserts the final states. Memory is bounded by the number
// of assets, not the number of entries. Pure function of the log:
// repeated runs produce identical rows.
func (r *Rebuilder) Rebuild(ctx context.Context) (*RebuildResult, error) {
	if err := r.states.Truncate(ctx); err != nil {
		return nil, err
	}

	perAsset := make(map[string]*Reduction)
	order := make([]string, 0)
	err := r.entries.ForEachBySequence(ctx, func(e ledger.Entry) error {
		assetID := e.Subject.AssetID
		red, seen := perAsset[assetID]
		if !seen {
			red = NewReduction(r.registry, assetID)
			perAsset[assetID] = red
			order = append(order, assetID)
		}
		red.Apply(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verification: stream entries: %w", err)
	}

	now := r.clock()
	for _, assetID := range order {
		if err := r.states.Upsert(ctx, perAsset[assetID].State(), now); err != nil {
			return nil, err
		}
	}

	r.log.Info("read_model_rebuilt", slog.Int("rebuilt_assets", len(order)))
	return &RebuildResult{OK: true, RebuiltAssets: len(order)}, nil
}
