package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCanonicalName(t *testing.T) {
	r := NewRegistry()
	name, err := r.Resolve(EventVerificationGranted)
	require.NoError(t, err)
	assert.Equal(t, EventVerificationGranted, name)
}

func TestResolveNormalizesAliases(t *testing.T) {
	r := NewRegistry()
	name, err := r.Resolve("VERIFICATION_ISSUED")
	require.NoError(t, err)
	assert.Equal(t, EventVerificationGranted, name)

	name, err = r.Resolve("ASSET_CREATED")
	require.NoError(t, err)
	assert.Equal(t, EventAssetRegistered, name)
}

func TestResolveRejectsMalformedNames(t *testing.T) {
	r := NewRegistry()
	for _, bad := range []string{"", "lowercase_type", "SINGLEWORD", "TRAILING_", "_LEADING", "Mixed_Case"} {
		_, err := r.Resolve(bad)
		require.Error(t, err, "expected rejection for %q", bad)
		assert.Equal(t, CodeValidationFailed, CodeOf(err))
	}
}

func TestResolveRejectsUnknownTypes(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("WAREHOUSE_EXPLODED")
	require.Error(t, err)
	assert.Equal(t, CodeUnrecognizedEventType, CodeOf(err))
}

func TestSemanticClassification(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, SemanticGrant, r.Semantic(EventVerificationGranted))
	assert.Equal(t, SemanticRevoke, r.Semantic(EventVerificationRevoked))
	assert.Equal(t, SemanticFreeze, r.Semantic(EventEvidenceFrozen))
	assert.Equal(t, SemanticClaimUpdate, r.Semantic(EventAssetClaimUpdated))
	assert.Equal(t, SemanticEvidenceAdded, r.Semantic(EventEvidenceAdded))
	assert.Equal(t, SemanticEvidenceRemoved, r.Semantic(EventEvidenceRemoved))
	assert.Equal(t, SemanticOther, r.Semantic(EventCustodyTransferred))
}

func TestCheckSchemaVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CheckSchemaVersion("1.0.0"))
	require.NoError(t, r.CheckSchemaVersion("1.4.2"))

	err := r.CheckSchemaVersion("2.0.0")
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedSchema, CodeOf(err))

	err = r.CheckSchemaVersion("")
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedSchema, CodeOf(err))

	err = r.CheckSchemaVersion("not-a-version")
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedSchema, CodeOf(err))
}
