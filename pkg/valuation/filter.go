// Package valuation screens oracle valuations for outliers before they
// influence downstream pricing. Rejections are recorded on the chain so
// the screening decision itself is auditable.
package valuation

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/veristone/provenance-core/pkg/canonical"
	"github.com/veristone/provenance-core/pkg/ledger"
)

// ThresholdFraction is the rejection threshold: absolute deviation from
// the median beyond this fraction of the median marks a source.
const ThresholdFraction = 0.1

// FilterSource identifies events this package appends.
const FilterSource = "valuation-filter"

// Valuation is one source's reported value for an asset.
type Valuation struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

// Result reports a screening run.
type Result struct {
	Median          float64     `json:"median"`
	Accepted        []Valuation `json:"accepted"`
	RejectedSources []string    `json:"rejected_sources,omitempty"`
	EventID         string      `json:"event_id,omitempty"`
	Emitted         bool        `json:"emitted"`
}

// Filter screens valuations and appends an ORACLE_DATA_REJECTED entry
// whenever at least one source is rejected.
type Filter struct {
	ingest *ledger.Service
	log    *slog.Logger
	newID  func() string
}

func NewFilter(ingest *ledger.Service, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{ingest: ingest, log: logger, newID: uuid.NewString}
}

// Median of the reported values; the mean of the middle pair when the
// count is even.
func Median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Screen partitions the valuations around the median. Fewer than two
// valuations is a no-op: a lone source has nothing to deviate from.
// When any source is rejected, exactly one canonical event records the
// decision; the idempotency key is derived from the payload, so
// re-screening identical inputs never duplicates the entry.
func (f *Filter) Screen(ctx context.Context, assetID string, valuations []Valuation) (*Result, error) {
	if assetID == "" {
		return nil, ledger.E(ledger.CodeValidationFailed, "asset_id is required")
	}
	if len(valuations) < 2 {
		return &Result{Accepted: append([]Valuation(nil), valuations...)}, nil
	}

	values := make([]float64, len(valuations))
	for i, v := range valuations {
		values[i] = v.Value
	}
	median := Median(values)
	threshold := math.Abs(median) * ThresholdFraction

	result := &Result{Median: median}
	for _, v := range valuations {
		if math.Abs(v.Value-median) > threshold {
			result.RejectedSources = append(result.RejectedSources, v.Source)
		} else {
			result.Accepted = append(result.Accepted, v)
		}
	}
	if len(result.RejectedSources) == 0 {
		return result, nil
	}
	sort.Strings(result.RejectedSources)

	payload := rejectionPayload(assetID, median, result.RejectedSources, valuations)
	payloadHash, err := canonical.Hash(payload)
	if err != nil {
		return nil, ledger.WrapErr(ledger.CodeInternal, err, "hash rejection payload")
	}

	eventID := f.newID()
	res, err := f.ingest.Ingest(ctx, ledger.IngestInput{
		EventID:        eventID,
		Source:         FilterSource,
		SchemaVersion:  "1.0.0",
		EventType:      ledger.EventOracleDataRejected,
		IdempotencyKey: "valuation-outlier:" + assetID + ":" + payloadHash,
		Subject:        ledger.Subject{AssetID: assetID},
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}

	result.EventID = eventID
	result.Emitted = !res.Deduped
	f.log.Info("valuation_outliers_rejected",
		slog.String("asset_id", assetID),
		slog.Float64("median", median),
		slog.Int("rejected", len(result.RejectedSources)),
		slog.Bool("deduped", res.Deduped))
	return result, nil
}

func rejectionPayload(assetID string, median float64, rejected []string, valuations []Valuation) map[string]interface{} {
	// Sorted by source so identical inputs hash identically regardless of
	// reporting order.
	sorted := append([]Valuation(nil), valuations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })

	rendered := make([]interface{}, len(sorted))
	for i, v := range sorted {
		rendered[i] = map[string]interface{}{"source": v.Source, "value": v.Value}
	}
	return map[string]interface{}{
		"asset_id":           assetID,
		"median":             median,
		"rejected_sources":   rejected,
		"valuations":         rendered,
		"threshold_fraction": ThresholdFraction,
	}
}
