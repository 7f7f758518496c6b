package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/veristone/provenance-core/pkg/ledger"
)

// Cache is an optional read-through cache in front of the derived table.
type Cache interface {
	Get(ctx context.Context, assetID string) (*DerivedState, bool, error)
	Set(ctx context.Context, state DerivedState) error
	Invalidate(ctx context.Context, assetID string) error
}

// Service answers verification-state queries.
type Service struct {
	entries  *ledger.Store
	states   *StateStore
	registry *ledger.Registry
	cache    Cache // nil disables caching
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(entries *ledger.Store, states *StateStore, registry *ledger.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		entries:  entries,
		states:   states,
		registry: registry,
		log:      logger,
		clock:    time.Now,
	}
}

// WithCache attaches a read-through cache for Lookup.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// Compute replays the asset's full history and returns the live derived
// state. Correctness-critical callers (proof validation, issuance gate)
// use this path; it never consults the cache or the derived table.
func (s *Service) Compute(ctx context.Context, assetID string) (DerivedState, error) {
	history, err := s.entries.HistoryByAsset(ctx, assetID)
	if err != nil {
		return DerivedState{}, ledger.WrapErr(ledger.CodeInternal, err, "fetch history for %s", assetID)
	}
	state := Reduce(s.registry, assetID, history)

	// Keep the derived row warm as a side effect; failures here must not
	// fail the read.
	if err := s.states.Upsert(ctx, state, s.clock()); err != nil {
		s.log.Warn("derived_state_upsert_failed",
			slog.String("asset_id", assetID), slog.String("error", err.Error()))
	}
	return state, nil
}

// Lookup serves the read API: cache, then live replay (which refreshes
// both the cache and the derived table).
func (s *Service) Lookup(ctx context.Context, assetID string) (DerivedState, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, assetID); err == nil && ok {
			return *cached, nil
		} else if err != nil {
			s.log.Warn("derived_state_cache_read_failed",
				slog.String("asset_id", assetID), slog.String("error", err.Error()))
		}
	}

	state, err := s.Compute(ctx, assetID)
	if err != nil {
		return DerivedState{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, state); err != nil {
			s.log.Warn("derived_state_cache_write_failed",
				slog.String("asset_id", assetID), slog.String("error", err.Error()))
		}
	}
	return state, nil
}
