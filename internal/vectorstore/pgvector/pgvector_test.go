package pgvector

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

// Runs against a real database when TENANTRAG_PG_DSN is set.
func TestStorageIntegration(t *testing.T) {
	dsn := os.Getenv("TENANTRAG_PG_DSN")
	if dsn == "" {
		t.Skip("TENANTRAG_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn}, nil)
	require.NoError(t, err)
	defer s.Close()
	_, _ = s.DeleteNamespace(ctx, "it_a")
	_, _ = s.DeleteNamespace(ctx, "it_b")

	add := func(tenant domain.TenantID, id string, vec ...float32) {
		require.NoError(t, s.Add(ctx, tenant, []domain.EmbeddedChunk{{
			Chunk:  domain.Chunk{ID: id, DocumentID: "d", TenantID: tenant, Text: id},
			Vector: vec,
		}}))
	}
	add("it_a", "a1", 1, 0)
	add("it_a", "a1", 1, 0)
	add("it_b", "b1", 0, 1)

	info, err := s.Info(ctx, "it_a")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	results, err := s.Search(ctx, "it_a", []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].Chunk.ID)

	existed, err := s.DeleteNamespace(ctx, "it_a")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.DeleteNamespace(ctx, "it_a")
	require.NoError(t, err)
	assert.False(t, existed)
	_, _ = s.DeleteNamespace(ctx, "it_b")
}

func TestConcurrentFirstWritesKeepOneDimension(t *testing.T) {
	dsn := os.Getenv("TENANTRAG_PG_DSN")
	if dsn == "" {
		t.Skip("TENANTRAG_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: dsn}, nil)
	require.NoError(t, err)
	defer s.Close()
	const tenant domain.TenantID = "it_race"
	_, _ = s.DeleteNamespace(ctx, tenant)
	defer func() { _, _ = s.DeleteNamespace(ctx, tenant) }()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec := make([]float32, 2+i%2)
			vec[0] = 1
			errs[i] = s.Add(ctx, tenant, []domain.EmbeddedChunk{{
				Chunk:  domain.Chunk{ID: fmt.Sprintf("c%d", i), DocumentID: "d", TenantID: tenant},
				Vector: vec,
			}})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrDimensionMismatch)
		}
	}

	var dims int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT vector_dims(embedding)) FROM rag_chunks WHERE tenant_id = $1`, tenant.String()).Scan(&dims))
	assert.Equal(t, 1, dims)
}

func TestNewRejectsUnknownMetric(t *testing.T) {
	_, err := New(nil, "hamming", nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	s, err := New(nil, domain.MetricCosine, nil)
	require.NoError(t, err)
	assert.Equal(t, "<=>", s.operator)
}
