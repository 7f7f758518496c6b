package ledger

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the structural contract of the producer-facing
// ingestion envelope. Field-level semantics (registry membership, schema
// major, canonical hash agreement) are checked separately in Ingest.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["event_id", "source", "schema_version", "event_type", "subject", "payload"],
	"properties": {
		"event_id": {"type": "string", "minLength": 1},
		"source": {"type": "string", "minLength": 1},
		"producer_version": {"type": "string"},
		"schema_version": {"type": "string", "minLength": 1},
		"event_type": {"type": "string", "pattern": "^[A-Z]+(_[A-Z]+)+$"},
		"correlation_id": {"type": "string"},
		"occurred_at": {"type": "string", "format": "date-time"},
		"idempotency_key": {"type": "string", "minLength": 1},
		"subject": {
			"type": "object",
			"required": ["asset_id"],
			"properties": {
				"asset_id": {"type": "string", "minLength": 1},
				"anchor_id": {"type": "string"},
				"actor_id": {"type": "string"},
				"shipment_id": {"type": "string"},
				"claim_id": {"type": "string"},
				"policy_id": {"type": "string"},
				"envelope_id": {"type": "string"},
				"account_id": {"type": "string"}
			}
		},
		"payload": {"type": "object"},
		"signatures": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"canonical_hash_hex": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
	}
}`

// EnvelopeValidator checks raw ingestion envelopes against the compiled
// schema before they are decoded into IngestInput.
type EnvelopeValidator struct {
	schema *jsonschema.Schema
}

func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://schemas.veristone.io/ledger/envelope.schema.json"
	if err := c.AddResource(url, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("ledger: load envelope schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("ledger: compile envelope schema: %w", err)
	}
	return &EnvelopeValidator{schema: compiled}, nil
}

// Validate checks a decoded JSON document. Failures carry
// VALIDATION_FAILED.
func (v *EnvelopeValidator) Validate(doc interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		return WrapErr(CodeValidationFailed, err, "envelope rejected by schema")
	}
	return nil
}
