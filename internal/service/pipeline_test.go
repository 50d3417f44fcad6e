package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tenantrag/internal/answer"
	"tenantrag/internal/chunker"
	"tenantrag/internal/domain"
	"tenantrag/internal/embedding/hashing"
	"tenantrag/internal/summarizer"
	"tenantrag/internal/vectorstore/memory"
)

type countingEmbedder struct {
	domain.Embedder
	single atomic.Int32
	batch  atomic.Int32
	fail   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.single.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batch.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Embedder.EmbedBatch(ctx, texts)
}

// rogueIndex ignores the tenant it is asked about.
type rogueIndex struct {
	domain.VectorIndex
	leak domain.SearchResult
}

func (r *rogueIndex) Info(_ context.Context, tenant domain.TenantID) (domain.NamespaceInfo, error) {
	return domain.NamespaceInfo{Tenant: tenant, Count: 1, Backend: "rogue"}, nil
}

func (r *rogueIndex) Search(context.Context, domain.TenantID, []float32, int) ([]domain.SearchResult, error) {
	return []domain.SearchResult{r.leak}, nil
}

func (r *rogueIndex) Backend() string { return "rogue" }

type fixture struct {
	deps     Deps
	embedder *countingEmbedder
	index    *memory.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := chunker.NewBoundary()
	require.NoError(t, err)
	idx, err := memory.NewStorage(memory.Config{Path: t.TempDir()}, nil)
	require.NoError(t, err)
	emb := &countingEmbedder{Embedder: hashing.NewEmbedder(hashing.DefaultDimension)}
	return &fixture{
		deps: Deps{
			Chunker:   b,
			Embedder:  emb,
			Index:     idx,
			Assembler: answer.New(nil),
			Digester:  summarizer.New(2),
		},
		embedder: emb,
		index:    idx,
	}
}

func (f *fixture) pipeline(t *testing.T, tenant domain.TenantID) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f.deps, tenant)
	require.NoError(t, err)
	return p
}

func gemText() string {
	return strings.Repeat("ruby ", 167) + strings.Repeat("jade ", 167) + strings.Repeat("opal ", 166)
}

func TestNewPipelineRequiresTenant(t *testing.T) {
	f := newFixture(t)
	_, err := NewPipeline(f.deps, "")
	require.ErrorIs(t, err, domain.ErrMissingTenant)
	require.True(t, domain.IsFatal(err))

	_, err = NewPipeline(f.deps, "bad tenant!")
	require.ErrorIs(t, err, domain.ErrInvalidTenant)

	_, err = NewPipeline(Deps{}, "1")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenant1 := f.pipeline(t, "1")

	res, err := tenant1.Ingest(ctx, domain.Document{ID: "gems", Name: "gems.txt", Content: gemText()})
	require.NoError(t, err)
	assert.Equal(t, "gems", res.DocumentID)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.Equal(t, 2500, res.Characters)
	assert.False(t, res.ProcessedAt.IsZero())
	assert.NotEmpty(t, res.Summary)

	info, err := tenant1.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, "memory", info.Backend)

	results, err := tenant1.Query(ctx, "opal", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "gems_chunk_2", results[0].Chunk.ID)
	for i, r := range results {
		assert.Equal(t, domain.TenantID("1"), r.Chunk.TenantID)
		assert.Equal(t, 3, r.Chunk.Total)
		if i > 0 {
			assert.LessOrEqual(t, results[i-1].Distance, r.Distance)
		}
	}

	ans, err := tenant1.Ask(ctx, "opal", 3)
	require.NoError(t, err)
	assert.Equal(t, "gems_chunk_2", ans.Sources[0].ChunkID)
	assert.Greater(t, ans.Confidence, 0.0)
	assert.False(t, ans.Generated)

	tenant2 := f.pipeline(t, "2")
	ans, err = tenant2.Ask(ctx, "opal", 3)
	require.NoError(t, err)
	assert.Equal(t, answer.NotFoundAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0.0, ans.Confidence)
}

func TestIsolationAcrossTrials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.pipeline(t, "alice")
	bob := f.pipeline(t, "bob")

	_, err := alice.Ingest(ctx, domain.Document{Name: "leave.txt", Content: "Annual leave is twenty days. Sick leave is paid."})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := bob.Ingest(ctx, domain.Document{
			Name:    fmt.Sprintf("bob-%d.txt", i),
			Content: fmt.Sprintf("Secret salary band %d. Annual leave is twenty days for bob %d.", i, i),
		})
		require.NoError(t, err)
	}

	questions := []string{"annual leave", "salary band", "secret", "twenty days", "bob"}
	for trial := 0; trial < 50; trial++ {
		q := questions[trial%len(questions)]
		results, err := alice.Query(ctx, q, 1+trial%5)
		require.NoError(t, err)
		for _, r := range results {
			require.Equal(t, domain.TenantID("alice"), r.Chunk.TenantID, "trial %d leaked %s", trial, r.Chunk.ID)
		}
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "1")
	doc := domain.Document{Name: "gems.txt", Content: gemText()}

	first, err := p.Ingest(ctx, doc)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Count)
}

func TestIngestPrunesStaleTail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "1")

	_, err := p.Ingest(ctx, domain.Document{ID: "gems", Name: "gems.txt", Content: gemText()})
	require.NoError(t, err)
	res, err := p.Ingest(ctx, domain.Document{ID: "gems", Name: "gems.txt", Content: "only opal now"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)
}

func TestQueryEmptyNamespaceSkipsEmbedder(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, "nobody")

	results, err := p.Query(context.Background(), "what is the leave policy?", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
	assert.Zero(t, f.embedder.single.Load())

	info, err := f.index.Info(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, info.Count)
}

func TestQueryAbortsOnForeignResult(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t)
	f.deps.Logger = zap.New(core)
	f.deps.Index = &rogueIndex{
		VectorIndex: f.index,
		leak: domain.SearchResult{
			Chunk:    domain.Chunk{ID: "x_chunk_0", TenantID: "mallory", Text: "other tenant data"},
			Distance: 0.01,
			Metric:   domain.MetricL2,
		},
	}
	p := f.pipeline(t, "1")

	_, err := p.Ask(context.Background(), "anything", 3)
	require.ErrorIs(t, err, domain.ErrIntegrityViolation)
	assert.True(t, domain.IsFatal(err))

	var ierr *domain.IntegrityError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, domain.TenantID("mallory"), ierr.Found)
	assert.Equal(t, 1, logs.FilterMessage("tenant isolation violated").Len())
}

func TestIngestFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "1")
	_, err := p.Ingest(ctx, domain.Document{ID: "a", Name: "a.txt", Content: "first document"})
	require.NoError(t, err)

	f.embedder.fail = domain.External("hashing", errors.New("quota exceeded"))
	res, err := p.Ingest(ctx, domain.Document{ID: "b", Name: "b.txt", Content: gemText()})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Zero(t, res)

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)
}

func TestIngestRejectsEmptyAndForeignDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "1")

	_, err := p.Ingest(ctx, domain.Document{Name: "blank.txt", Content: " \n\t\x00 "})
	require.ErrorIs(t, err, domain.ErrEmptyDocument)

	_, err = p.Ingest(ctx, domain.Document{TenantID: "2", Name: "x.txt", Content: "hello"})
	require.ErrorIs(t, err, domain.ErrIntegrityViolation)
}

func TestRemoveDocumentAndDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, "1")
	_, err := p.Ingest(ctx, domain.Document{ID: "gems", Name: "gems.txt", Content: gemText()})
	require.NoError(t, err)
	_, err = p.Ingest(ctx, domain.Document{ID: "note", Name: "note.txt", Content: "a short note"})
	require.NoError(t, err)

	n, err := p.RemoveDocument(ctx, "gems")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	existed, err := p.DeleteNamespace(ctx)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = p.DeleteNamespace(ctx)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDocumentIDIsStable(t *testing.T) {
	a := DocumentID("1", "handbook.pdf", "x")
	assert.Equal(t, a, DocumentID("1", "handbook.pdf", "y"))
	assert.NotEqual(t, a, DocumentID("2", "handbook.pdf", "x"))
}
