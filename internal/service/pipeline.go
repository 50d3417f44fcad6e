// Package service sequences ingestion and retrieval for one tenant at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenantrag/internal/answer"
	"tenantrag/internal/chunker"
	"tenantrag/internal/domain"
	"tenantrag/internal/summarizer"
)

const DefaultTopK = 3

// Deps are the collaborators shared by every request. They must be safe for
// concurrent use; the index is the only mutable state behind them.
type Deps struct {
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Index     domain.VectorIndex
	Assembler *answer.Assembler
	Extractor domain.TextExtractor
	Digester  *summarizer.Digester
	Logger    *zap.Logger
	TopK      int
}

// Pipeline serves a single tenant for the lifetime of one request.
type Pipeline struct {
	deps   Deps
	tenant domain.TenantID
	logger *zap.Logger
}

// NewPipeline binds deps to tenant. It is the only place a tenant id enters
// the retrieval path.
func NewPipeline(deps Deps, tenant domain.TenantID) (*Pipeline, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if deps.Chunker == nil || deps.Embedder == nil || deps.Index == nil {
		return nil, fmt.Errorf("%w: pipeline needs a chunker, an embedder and an index", domain.ErrConfiguration)
	}
	if deps.Assembler == nil {
		deps.Assembler = answer.New(nil)
	}
	if deps.TopK <= 0 {
		deps.TopK = DefaultTopK
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:   deps,
		tenant: tenant,
		logger: logger.With(zap.String("tenant_id", tenant.String())),
	}, nil
}

func (p *Pipeline) Tenant() domain.TenantID { return p.tenant }

// Ingest cleans, chunks, embeds and indexes one document. Any failure leaves
// the returned result zero so the caller can keep the document unprocessed;
// a retry re-upserts the same chunk ids.
func (p *Pipeline) Ingest(ctx context.Context, doc domain.Document) (domain.IngestResult, error) {
	if doc.TenantID != "" && doc.TenantID != p.tenant {
		return domain.IngestResult{}, &domain.IntegrityError{
			Tenant: p.tenant, Found: doc.TenantID, ChunkID: doc.ID,
			Reason: "document belongs to another tenant",
		}
	}
	doc.TenantID = p.tenant
	characters := doc.Characters()
	doc.Content = chunker.Clean(doc.Content)
	if doc.Content == "" {
		return domain.IngestResult{}, fmt.Errorf("ingest %q: %w", doc.Name, domain.ErrEmptyDocument)
	}
	if doc.ID == "" {
		doc.ID = DocumentID(p.tenant, doc.Name, doc.Content)
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}
	if doc.Kind == "" {
		doc.Kind = domain.ClassifyDocument(doc.Name)
	}
	logger := p.logger.With(zap.String("document_id", doc.ID), zap.String("document", doc.Name))

	chunks, err := p.deps.Chunker.Chunk(doc)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("chunk %q: %w", doc.Name, err)
	}
	if len(chunks) == 0 {
		return domain.IngestResult{}, fmt.Errorf("ingest %q: %w", doc.Name, domain.ErrEmptyDocument)
	}
	logger.Debug("chunked document", zap.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logger.Error("embedding failed", zap.String("embedder", p.deps.Embedder.Name()), zap.Error(err))
		return domain.IngestResult{}, fmt.Errorf("embed %q: %w", doc.Name, err)
	}
	if len(vectors) != len(chunks) {
		return domain.IngestResult{}, domain.External(p.deps.Embedder.Name(),
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	embedded := make([]domain.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		c.TenantID = p.tenant
		embedded[i] = domain.EmbeddedChunk{Chunk: c, Vector: vectors[i]}
	}
	if err := p.deps.Index.Add(ctx, p.tenant, embedded); err != nil {
		logger.Error("indexing failed", zap.String("backend", p.deps.Index.Backend()), zap.Error(err))
		return domain.IngestResult{}, fmt.Errorf("index %q: %w", doc.Name, err)
	}
	pruned, err := p.deps.Index.PruneDocument(ctx, p.tenant, doc.ID, len(chunks))
	if err != nil {
		logger.Error("pruning stale chunks failed", zap.Error(err))
		return domain.IngestResult{}, fmt.Errorf("prune %q: %w", doc.Name, err)
	}

	res := domain.IngestResult{
		DocumentID:    doc.ID,
		ChunksCreated: len(chunks),
		Characters:    characters,
		ProcessedAt:   time.Now().UTC(),
	}
	if p.deps.Digester != nil {
		res.Summary = p.deps.Digester.Digest(doc.Content)
	}
	logger.Info("ingested document",
		zap.Int("chunks", res.ChunksCreated),
		zap.Int("characters", res.Characters),
		zap.Int("stale_chunks_removed", pruned))
	return res, nil
}

// IngestFile extracts the text of path and ingests it. Name defaults to the
// file's base name.
func (p *Pipeline) IngestFile(ctx context.Context, path, name, documentID string) (domain.IngestResult, error) {
	if p.deps.Extractor == nil {
		return domain.IngestResult{}, fmt.Errorf("%w: no text extractor configured", domain.ErrConfiguration)
	}
	text, err := p.deps.Extractor.ExtractText(path)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("extract %s: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return p.Ingest(ctx, domain.Document{ID: documentID, Name: name, Content: text})
}

// Query returns at most k results for question, nearest first. An empty
// namespace returns no results without calling the embedder.
func (p *Pipeline) Query(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	if err := p.tenant.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = p.deps.TopK
	}
	if strings.TrimSpace(question) == "" {
		return []domain.SearchResult{}, nil
	}
	info, err := p.deps.Index.Info(ctx, p.tenant)
	if err != nil {
		return nil, fmt.Errorf("namespace info: %w", err)
	}
	if info.Count == 0 {
		p.logger.Debug("namespace is empty, skipping search")
		return []domain.SearchResult{}, nil
	}

	vector, err := p.deps.Embedder.Embed(ctx, question)
	if err != nil {
		p.logger.Error("embedding question failed", zap.String("embedder", p.deps.Embedder.Name()), zap.Error(err))
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := p.deps.Index.Search(ctx, p.tenant, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, r := range results {
		if r.Chunk.TenantID != p.tenant {
			ierr := &domain.IntegrityError{
				Tenant: p.tenant, Found: r.Chunk.TenantID, ChunkID: r.Chunk.ID,
				Reason: "index returned a chunk outside the tenant namespace",
			}
			p.logger.Error("tenant isolation violated",
				zap.String("backend", p.deps.Index.Backend()),
				zap.String("found_tenant", r.Chunk.TenantID.String()),
				zap.String("chunk_id", r.Chunk.ID))
			return nil, ierr
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	p.logger.Info("query served", zap.Int("k", k), zap.Int("results", len(results)))
	return results, nil
}

// Ask answers question from the tenant's documents. Integrity violations are
// returned as errors and never turned into a not-found answer.
func (p *Pipeline) Ask(ctx context.Context, question string, k int) (domain.Answer, error) {
	results, err := p.Query(ctx, question, k)
	if err != nil {
		return domain.Answer{}, err
	}
	return p.Answer(ctx, question, results), nil
}

// Answer assembles an answer from results already returned by Query.
func (p *Pipeline) Answer(ctx context.Context, question string, results []domain.SearchResult) domain.Answer {
	return p.deps.Assembler.Assemble(ctx, question, results)
}

func (p *Pipeline) Info(ctx context.Context) (domain.NamespaceInfo, error) {
	info, err := p.deps.Index.Info(ctx, p.tenant)
	if err != nil {
		return domain.NamespaceInfo{}, fmt.Errorf("namespace info: %w", err)
	}
	info.Tenant = p.tenant
	if info.Backend == "" {
		info.Backend = p.deps.Index.Backend()
	}
	return info, nil
}

// DeleteNamespace drops every chunk of the tenant. It reports whether a
// namespace existed; deleting a missing one is not an error.
func (p *Pipeline) DeleteNamespace(ctx context.Context) (bool, error) {
	existed, err := p.deps.Index.DeleteNamespace(ctx, p.tenant)
	if err != nil {
		return false, fmt.Errorf("delete namespace: %w", err)
	}
	p.logger.Info("namespace deleted", zap.Bool("existed", existed))
	return existed, nil
}

// RemoveDocument deletes all chunks of one document and returns how many
// were removed.
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, errors.New("document id is required")
	}
	n, err := p.deps.Index.PruneDocument(ctx, p.tenant, documentID, 0)
	if err != nil {
		return 0, fmt.Errorf("remove document %q: %w", documentID, err)
	}
	p.logger.Info("document removed", zap.String("document_id", documentID), zap.Int("chunks", n))
	return n, nil
}

// DocumentID derives a stable id for a document from its tenant and name, or
// from its content when it has no name.
func DocumentID(tenant domain.TenantID, name, content string) string {
	key := name
	if key == "" {
		key = content
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenant.String()+"/"+key)).String()
}
