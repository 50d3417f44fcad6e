package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

func TestNewWithoutKey(t *testing.T) {
	t.Setenv("TENANTRAG_TEST_GEMINI_KEY", "")
	_, err := New(context.Background(), Config{APIKeyEnv: "TENANTRAG_TEST_GEMINI_KEY"}, nil)
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	require.True(t, domain.IsFatal(err))
}
