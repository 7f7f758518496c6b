package canonical

import "sort"

// EvidenceSetHash computes the order-independent content identifier of a set
// of evidence hashes: empty strings are dropped, the remainder is sorted
// ascending, joined with "|", and hashed.
func EvidenceSetHash(hashes []string) string {
	filtered := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h != "" {
			filtered = append(filtered, h)
		}
	}
	sort.Strings(filtered)

	joined := ""
	for i, h := range filtered {
		if i > 0 {
			joined += "|"
		}
		joined += h
	}
	return HashBytes([]byte(joined))
}

// AssetStateHash binds a claim, its evidence set, and the ruleset version
// into a single composite identifier. A change to any component changes the
// hash, which is what invalidates stale verification grants.
func AssetStateHash(claim interface{}, evidenceHashes []string, rulesetVersion string) (string, error) {
	return Hash(map[string]interface{}{
		"ruleset_version":   rulesetVersion,
		"claim_json":        claim,
		"evidence_set_hash": EvidenceSetHash(evidenceHashes),
	})
}
