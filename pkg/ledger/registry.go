package ledger

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// Semantic is the reducer-relevant class of an event type. Most event
// types carry no verification semantics and reduce as OTHER.
type Semantic string

const (
	SemanticOther           Semantic = "OTHER"
	SemanticGrant           Semantic = "GRANT"
	SemanticClaimUpdate     Semantic = "CLAIM_UPDATE"
	SemanticEvidenceAdded   Semantic = "EVIDENCE_ADDED"
	SemanticEvidenceRemoved Semantic = "EVIDENCE_REMOVED"
	SemanticFreeze          Semantic = "FREEZE"
	SemanticRevoke          Semantic = "REVOKE"
)

// Canonical event type names. DOMAIN_NOUN_PASTVERB, upper snake case.
const (
	EventAssetRegistered     = "ASSET_REGISTERED"
	EventAssetClaimUpdated   = "ASSET_CLAIM_UPDATED"
	EventEvidenceAdded       = "EVIDENCE_ADDED"
	EventEvidenceRemoved     = "EVIDENCE_REMOVED"
	EventEvidenceFrozen      = "EVIDENCE_FROZEN"
	EventVerificationGranted = "VERIFICATION_GRANTED"
	EventVerificationRevoked = "VERIFICATION_REVOKED"
	EventCustodyTransferred  = "CUSTODY_TRANSFERRED"
	EventShipmentDispatched  = "SHIPMENT_DISPATCHED"
	EventShipmentDelivered   = "SHIPMENT_DELIVERED"
	EventValuationRecorded   = "VALUATION_RECORDED"
	EventOracleDataRejected  = "ORACLE_DATA_REJECTED"
	EventClaimFiled          = "CLAIM_FILED"
	EventClaimSettled        = "CLAIM_SETTLED"
	EventPolicyBound         = "POLICY_BOUND"
)

var eventTypePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z]+)+$`)

// Registry holds the fixed set of canonical event types, the legacy alias
// side table, and the accepted schema major version. Only canonical names
// persist on the chain.
type Registry struct {
	schemaMajor uint64
	semantics   map[string]Semantic
	aliases     map[string]string
}

// NewRegistry returns the registry for the current schema generation.
func NewRegistry() *Registry {
	return &Registry{
		schemaMajor: 1,
		semantics: map[string]Semantic{
			EventAssetRegistered:     SemanticOther,
			EventAssetClaimUpdated:   SemanticClaimUpdate,
			EventEvidenceAdded:       SemanticEvidenceAdded,
			EventEvidenceRemoved:     SemanticEvidenceRemoved,
			EventEvidenceFrozen:      SemanticFreeze,
			EventVerificationGranted: SemanticGrant,
			EventVerificationRevoked: SemanticRevoke,
			EventCustodyTransferred:  SemanticOther,
			EventShipmentDispatched:  SemanticOther,
			EventShipmentDelivered:   SemanticOther,
			EventValuationRecorded:   SemanticOther,
			EventOracleDataRejected:  SemanticOther,
			EventClaimFiled:          SemanticOther,
			EventClaimSettled:        SemanticOther,
			EventPolicyBound:         SemanticOther,
		},
		aliases: map[string]string{
			// Names still emitted by pre-v1 producers.
			"ASSET_CREATED":         EventAssetRegistered,
			"VERIFICATION_ISSUED":   EventVerificationGranted,
			"EVIDENCE_ATTACHED":     EventEvidenceAdded,
			"ASSET_EVIDENCE_HOLD":   EventEvidenceFrozen,
			"OWNERSHIP_TRANSFERRED": EventCustodyTransferred,
		},
	}
}

// SchemaMajor is the registry's current major version. Ingestion accepts
// only envelopes whose schema_version shares it.
func (r *Registry) SchemaMajor() uint64 { return r.schemaMajor }

// Resolve validates an event type name and normalizes legacy aliases to
// the canonical name.
func (r *Registry) Resolve(name string) (string, error) {
	if !eventTypePattern.MatchString(name) {
		return "", E(CodeValidationFailed, "event_type %q does not match DOMAIN_NOUN_PASTVERB", name)
	}
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	if _, ok := r.semantics[name]; !ok {
		return "", E(CodeUnrecognizedEventType, "event_type %q is not in the registry", name)
	}
	return name, nil
}

// Semantic returns the reducer class of a canonical event type.
func (r *Registry) Semantic(canonicalName string) Semantic {
	if s, ok := r.semantics[canonicalName]; ok {
		return s
	}
	return SemanticOther
}

// CheckSchemaVersion rejects envelopes from a different schema generation.
func (r *Registry) CheckSchemaVersion(v string) error {
	if v == "" {
		return E(CodeUnsupportedSchema, "schema_version is required")
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return E(CodeUnsupportedSchema, "schema_version %q is not a valid version", v)
	}
	if parsed.Major() != r.schemaMajor {
		return E(CodeUnsupportedSchema, "schema_version %q: major %d not supported (current %d)",
			v, parsed.Major(), r.schemaMajor)
	}
	return nil
}
