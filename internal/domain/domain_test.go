package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTenantID(t *testing.T) {
	id, err := ParseTenantID("  user-42 ")
	require.NoError(t, err)
	assert.Equal(t, TenantID("user-42"), id)
	assert.Equal(t, "tenant_user-42", id.Namespace())

	_, err = ParseTenantID("")
	require.ErrorIs(t, err, ErrMissingTenant)
	require.ErrorIs(t, err, ErrConfiguration)

	for _, raw := range []string{"a/b", "../etc", "tenant id", "é"} {
		_, err = ParseTenantID(raw)
		assert.ErrorIs(t, err, ErrInvalidTenant, raw)
	}
}

func TestRelevanceScore(t *testing.T) {
	assert.Equal(t, 1.0, RelevanceScore(MetricNone, 42))
	assert.Equal(t, 1.0, RelevanceScore(MetricCosine, 0))
	assert.Equal(t, 0.5, RelevanceScore(MetricCosine, 1))
	assert.Equal(t, 0.0, RelevanceScore(MetricCosine, 3))
	assert.Equal(t, 0.5, RelevanceScore(MetricL2, 1))
	assert.Equal(t, 0.5, RelevanceScore(MetricL2Squared, 1))
	assert.Equal(t, 1.0, RelevanceScore(MetricL2, -0.01))

	// closer is never less relevant
	assert.Greater(t, RelevanceScore(MetricL2, 0.2), RelevanceScore(MetricL2, 0.9))
}

func TestErrorClassification(t *testing.T) {
	ext := External("openai", errors.New("503"))
	assert.True(t, IsRetryable(ext))
	assert.False(t, IsFatal(ext))
	assert.Same(t, ext, External("openai", ext))
	assert.Nil(t, External("openai", nil))

	integrity := fmt.Errorf("query: %w", &IntegrityError{Tenant: "a", Found: "b", ChunkID: "c1", Reason: "foreign result"})
	assert.True(t, IsFatal(integrity))
	assert.False(t, IsRetryable(integrity))
	var ie *IntegrityError
	require.ErrorAs(t, integrity, &ie)
	assert.Equal(t, TenantID("b"), ie.Found)

	assert.True(t, IsFatal(ErrEmbeddingUnavailable))
}

func TestClassifyDocument(t *testing.T) {
	assert.Equal(t, KindEmploymentContract, ClassifyDocument("Employment_Contract.pdf"))
	assert.Equal(t, KindHRHandbook, ClassifyDocument("HR_Policy_2024.md"))
	assert.Equal(t, KindIncrementPolicy, ClassifyDocument("probation-rules.txt"))
	assert.Equal(t, KindOther, ClassifyDocument("notes.txt"))
}
