// Package chroma stores each tenant in its own Chroma collection.
package chroma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	chhttp "github.com/amikos-tech/chroma-go/pkg/commons/http"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/vectorstore"
)

type Config struct {
	URL string
}

// Storage implements domain.VectorIndex on a Chroma server.
type Storage struct {
	client chromago.Client
	logger *zap.Logger
}

func NewStorage(cfg Config, logger *zap.Logger) (*Storage, error) {
	var opts []chromago.ClientOption
	if cfg.URL != "" {
		opts = append(opts, chromago.WithBaseURL(cfg.URL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create chroma client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{client: client, logger: logger.With(zap.String("backend", "chroma"))}, nil
}

func (s *Storage) Backend() string { return "chroma" }

// find returns the tenant's collection or nil. It never creates one.
func (s *Storage) find(ctx context.Context, tenant domain.TenantID) (chromago.Collection, error) {
	collection, err := s.client.GetCollection(ctx, tenant.Namespace(), chromago.WithEmbeddingFunctionGet(precomputed{}))
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", tenant.Namespace(), err)
	}
	return collection, nil
}

func isNotFound(err error) bool {
	var chErr *chhttp.ChromaError
	if !errors.As(err, &chErr) {
		return false
	}
	return chErr.ErrorCode == http.StatusNotFound || chErr.ErrorID == "NotFoundError"
}

// precomputed is the collection embedding function. Vectors always come
// from the pipeline's embedder, so chroma is never asked to embed text.
type precomputed struct{}

var errPrecomputed = errors.New("chroma collections store precomputed vectors only")

func (precomputed) EmbedDocuments(context.Context, []string) ([]embeddings.Embedding, error) {
	return nil, errPrecomputed
}

func (precomputed) EmbedQuery(context.Context, string) (embeddings.Embedding, error) {
	return nil, errPrecomputed
}

func (s *Storage) Add(ctx context.Context, tenant domain.TenantID, chunks []domain.EmbeddedChunk) error {
	if _, err := vectorstore.ValidateChunks(tenant, chunks); err != nil || len(chunks) == 0 {
		return err
	}
	collection, err := s.client.GetOrCreateCollection(ctx, tenant.Namespace(),
		chromago.WithEmbeddingFunctionCreate(precomputed{}),
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("tenant_id", tenant.String()),
			),
		),
	)
	if err != nil {
		return fmt.Errorf("open collection %s: %w", tenant.Namespace(), err)
	}

	ids := make([]chromago.DocumentID, len(chunks))
	texts := make([]string, len(chunks))
	vectors := make([]embeddings.Embedding, len(chunks))
	metadatas := make([]chromago.DocumentMetadata, len(chunks))
	for i, c := range chunks {
		ids[i] = chromago.DocumentID(c.ID)
		texts[i] = c.Text
		vectors[i] = embeddings.NewEmbeddingFromFloat32(c.Vector)
		metadatas[i] = chromago.NewDocumentMetadata(
			chromago.NewStringAttribute("tenant_id", string(c.TenantID)),
			chromago.NewStringAttribute("document_id", c.DocumentID),
			chromago.NewStringAttribute("chunk_id", c.ID),
			chromago.NewStringAttribute("source", c.Source),
			chromago.NewStringAttribute("kind", c.Kind),
			chromago.NewIntAttribute("chunk_index", int64(c.Index)),
			chromago.NewIntAttribute("total_chunks", int64(c.Total)),
			chromago.NewIntAttribute("length", int64(c.Length)),
		)
	}
	err = collection.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metadatas...),
	)
	if err != nil {
		return fmt.Errorf("upsert %d chunks into %s: %w", len(chunks), tenant.Namespace(), err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, tenant domain.TenantID, vector []float32, k int) ([]domain.SearchResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	collection, err := s.find(ctx, tenant)
	if err != nil || collection == nil {
		return nil, err
	}
	results, err := collection.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(vectorstore.OverFetch(k, vectorstore.ServerOverFetch)),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tenant.Namespace(), err)
	}

	idGroups := results.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	documents := results.GetDocumentsGroups()
	metadatas := results.GetMetadatasGroups()
	distances := results.GetDistancesGroups()

	candidates := make([]domain.SearchResult, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		var meta vectorstore.Metadata
		if len(metadatas) > 0 && i < len(metadatas[0]) && metadatas[0][i] != nil {
			if meta, err = decodeMetadata(metadatas[0][i]); err != nil {
				s.logger.Warn("undecodable chunk metadata", zap.String("chunk_id", string(id)), zap.Error(err))
			}
		}
		meta.ChunkID = string(id)
		if len(documents) > 0 && i < len(documents[0]) {
			meta.Text = documents[0][i].ContentString()
		}
		r := domain.SearchResult{Chunk: meta.Chunk(), Metric: domain.MetricNone}
		if len(distances) > 0 && i < len(distances[0]) {
			r.Distance = float64(distances[0][i])
			r.Metric = domain.MetricL2Squared
		}
		candidates = append(candidates, r)
	}
	return vectorstore.FilterTenant(s.logger, tenant, candidates, k), nil
}

func (s *Storage) Info(ctx context.Context, tenant domain.TenantID) (domain.NamespaceInfo, error) {
	info := domain.NamespaceInfo{Tenant: tenant, Backend: s.Backend()}
	if err := tenant.Validate(); err != nil {
		return info, err
	}
	collection, err := s.find(ctx, tenant)
	if err != nil || collection == nil {
		return info, err
	}
	count, err := collection.Count(ctx)
	if err != nil {
		return info, fmt.Errorf("count %s: %w", tenant.Namespace(), err)
	}
	info.Count = int(count)
	return info, nil
}

func (s *Storage) DeleteNamespace(ctx context.Context, tenant domain.TenantID) (bool, error) {
	if err := tenant.Validate(); err != nil {
		return false, err
	}
	collection, err := s.find(ctx, tenant)
	if err != nil || collection == nil {
		return false, err
	}
	if err := s.client.DeleteCollection(ctx, tenant.Namespace()); isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("delete collection %s: %w", tenant.Namespace(), err)
	}
	s.logger.Info("deleted collection", zap.String("tenant_id", tenant.String()))
	return true, nil
}

func (s *Storage) PruneDocument(ctx context.Context, tenant domain.TenantID, documentID string, keep int) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	collection, err := s.find(ctx, tenant)
	if err != nil || collection == nil {
		return 0, err
	}
	owned, err := collection.Get(ctx,
		chromago.WithWhereGet(chromago.EqString("document_id", documentID)),
		chromago.WithIncludeGet(chromago.IncludeMetadatas),
	)
	if err != nil {
		return 0, fmt.Errorf("list chunks of %s in %s: %w", documentID, tenant.Namespace(), err)
	}
	ids := owned.GetIDs()
	metadatas := owned.GetMetadatas()
	var stale []chromago.DocumentID
	for i := range ids {
		if i >= len(metadatas) || metadatas[i] == nil {
			continue
		}
		meta, err := decodeMetadata(metadatas[i])
		if err != nil {
			continue
		}
		if meta.DocumentID == documentID && meta.ChunkIndex >= keep {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := collection.Delete(ctx, chromago.WithIDsDelete(stale...)); err != nil {
		return 0, fmt.Errorf("delete %d stale chunks: %w", len(stale), err)
	}
	return len(stale), nil
}

func (s *Storage) Close() error { return s.client.Close() }

// decodeMetadata converts chroma's metadata value through its JSON form.
func decodeMetadata(v any) (vectorstore.Metadata, error) {
	var meta vectorstore.Metadata
	raw, err := json.Marshal(v)
	if err != nil {
		return meta, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return meta, err
	}
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	num := func(key string) int {
		f, _ := fields[key].(float64)
		return int(f)
	}
	meta = vectorstore.Metadata{
		TenantID:    str("tenant_id"),
		DocumentID:  str("document_id"),
		ChunkID:     str("chunk_id"),
		Source:      str("source"),
		Kind:        str("kind"),
		ChunkIndex:  num("chunk_index"),
		TotalChunks: num("total_chunks"),
		Length:      num("length"),
	}
	return meta, nil
}
