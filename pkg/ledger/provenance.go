package ledger

import "github.com/veristone/provenance-core/pkg/canonical"

// provenance holds the dedicated columns extracted from, or computed
// over, an event payload at ingest time.
type provenance struct {
	RulesetVersion   string
	EvidenceSetHash  string
	AssetStateHash   string
	SignatureKeyID   string
	VerificationTier string
}

// Recognized payload fields. The payload is otherwise opaque to the core.
const (
	payloadFieldRulesetVersion   = "ruleset_version"
	payloadFieldEvidenceSetHash  = "evidence_set_hash"
	payloadFieldEvidenceHashes   = "evidence_hashes"
	payloadFieldAssetStateHash   = "asset_state_hash"
	payloadFieldClaim            = "claim_json"
	payloadFieldSignatureKeyID   = "signature_key_id"
	payloadFieldVerificationTier = "verification_tier"
)

func provenanceFromPayload(payload map[string]interface{}, signerKeyID string) (provenance, error) {
	prov := provenance{
		RulesetVersion: stringField(payload, payloadFieldRulesetVersion),
		SignatureKeyID: stringField(payload, payloadFieldSignatureKeyID),
	}
	if prov.RulesetVersion == "" {
		prov.RulesetVersion = DefaultRulesetVersion
	}
	if prov.SignatureKeyID == "" {
		prov.SignatureKeyID = signerKeyID
	}
	prov.VerificationTier = stringField(payload, payloadFieldVerificationTier)

	evidenceHashes, hasEvidence := stringSliceField(payload, payloadFieldEvidenceHashes)

	prov.EvidenceSetHash = stringField(payload, payloadFieldEvidenceSetHash)
	if prov.EvidenceSetHash == "" && hasEvidence {
		prov.EvidenceSetHash = canonical.EvidenceSetHash(evidenceHashes)
	}

	prov.AssetStateHash = stringField(payload, payloadFieldAssetStateHash)
	if prov.AssetStateHash == "" {
		if claim, ok := payload[payloadFieldClaim]; ok {
			h, err := canonical.AssetStateHash(claim, evidenceHashes, prov.RulesetVersion)
			if err != nil {
				return provenance{}, WrapErr(CodeValidationFailed, err, "compute asset_state_hash")
			}
			prov.AssetStateHash = h
		}
	}
	return prov, nil
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func stringSliceField(m map[string]interface{}, key string) ([]string, bool) {
	if m == nil {
		return nil, false
	}
	raw, ok := m[key]
	if !ok {
		return nil, false
	}
	switch t := raw.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
