// Package ledger implements the canonical ingestion path of the provenance
// ledger: a single hash-chained, append-only sequence of signed events.
//
// Every write runs under one process-wide chain lock, so sequence numbers
// are dense and commit order equals sequence order. Entries are immutable
// once committed; the store layer enforces this with triggers.
package ledger

import "time"

// Subject is the structured reference to the thing an event concerns.
// AssetID is mandatory; the rest identify collaborating aggregates.
type Subject struct {
	AssetID    string `json:"asset_id"`
	AnchorID   string `json:"anchor_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	ShipmentID string `json:"shipment_id,omitempty"`
	ClaimID    string `json:"claim_id,omitempty"`
	PolicyID   string `json:"policy_id,omitempty"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

// Entry is a committed ledger row. Immutable.
type Entry struct {
	EventID        string                 `json:"event_id"`
	SequenceNumber int64                  `json:"sequence_number"`
	Source         string                 `json:"source"`
	EventType      string                 `json:"event_type"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	Subject        Subject                `json:"subject"`
	Payload        map[string]interface{} `json:"payload"`
	PayloadHash    string                 `json:"payload_hash"`
	PreviousHash   string                 `json:"previous_hash,omitempty"` // empty only at sequence 0
	EntryHash      string                 `json:"entry_hash"`
	Signatures     map[string]string      `json:"signatures,omitempty"`
	SignatureKeyID string                 `json:"signature_key_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CanonicalHash  string                 `json:"canonical_hash_hex,omitempty"`
	SchemaVersion  string                 `json:"schema_version"`
	ProducerVer    string                 `json:"producer_version,omitempty"`
	OccurredAt     *time.Time             `json:"occurred_at,omitempty"`
	CommittedAt    time.Time              `json:"committed_at"`

	// Provenance columns extracted from or computed over the payload.
	RulesetVersion   string `json:"ruleset_version"`
	AssetStateHash   string `json:"asset_state_hash,omitempty"`
	EvidenceSetHash  string `json:"evidence_set_hash,omitempty"`
	VerificationTier string `json:"verification_tier,omitempty"`
}

// IngestInput is the producer-facing envelope for a single event.
type IngestInput struct {
	EventID        string                 `json:"event_id"`
	Source         string                 `json:"source"`
	ProducerVer    string                 `json:"producer_version,omitempty"`
	SchemaVersion  string                 `json:"schema_version"`
	EventType      string                 `json:"event_type"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	OccurredAt     *time.Time             `json:"occurred_at,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Subject        Subject                `json:"subject"`
	Payload        map[string]interface{} `json:"payload"`
	Signatures     map[string]string      `json:"signatures,omitempty"`
	CanonicalHash  string                 `json:"canonical_hash_hex,omitempty"`
}

// IngestResult reports the committed identity of the event, whether this
// call created it or an earlier one did.
type IngestResult struct {
	Deduped        bool      `json:"deduped"`
	SequenceNumber int64     `json:"sequence_number"`
	EntryHash      string    `json:"entry_hash"`
	CommittedAt    time.Time `json:"committed_at"`
}

// ProviderSignatureName is the reserved signature slot the ledger itself
// fills for every entry.
const ProviderSignatureName = "provider_sig"

// DefaultRulesetVersion applies when a payload does not carry one.
const DefaultRulesetVersion = "v1.0.0"
