package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant with one collection per tenant.
// Collections use cosine distance and are created on first write only.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
	logger *zap.Logger
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewStorage(cfg Config, logger *zap.Logger) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", domain.ErrConfiguration)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("backend", "qdrant")),
	}, nil
}

func (s *Storage) Backend() string { return "qdrant" }

// PointID maps a chunk id to the UUID qdrant requires.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *Storage) collectionURL(tenant domain.TenantID) string {
	return fmt.Sprintf("%s/collections/%s", s.url, tenant.Namespace())
}

func (s *Storage) ensureCollection(ctx context.Context, tenant domain.TenantID, dimension int) error {
	var out struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodGet, s.collectionURL(tenant), nil, &out)
	if err != nil {
		return err
	}
	if found {
		if size := out.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("%w: collection %s has %d dimensions, got %d", domain.ErrDimensionMismatch, tenant.Namespace(), size, dimension)
		}
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if found, err := s.do(ctx, http.MethodPut, s.collectionURL(tenant), body, nil); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("create collection %s: not found", tenant.Namespace())
	}
	s.logger.Info("created collection", zap.String("tenant_id", tenant.String()), zap.Int("dimension", dimension))
	return nil
}

func (s *Storage) Add(ctx context.Context, tenant domain.TenantID, chunks []domain.EmbeddedChunk) error {
	dim, err := vectorstore.ValidateChunks(tenant, chunks)
	if err != nil || len(chunks) == 0 {
		return err
	}
	if err := s.ensureCollection(ctx, tenant, dim); err != nil {
		return err
	}
	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		points[i] = map[string]any{
			"id":      PointID(c.ID),
			"vector":  c.Vector,
			"payload": vectorstore.MetadataOf(c.Chunk),
		}
	}
	body := map[string]any{"points": points}
	found, err := s.do(ctx, http.MethodPut, s.collectionURL(tenant)+"/points?wait=true", body, nil)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("upsert %d points: collection %s not found", len(points), tenant.Namespace())
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
	req := map[string]any{
		"vector":       vector,
		"limit":        vectorstore.OverFetch(k, vectorstore.ServerOverFetch),
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "tenant_id", "match": map[string]any{"value": tenant.String()}},
			},
		},
	}
	var resp struct {
		Result []struct {
			Score   float64              `json:"score"`
			Payload vectorstore.Metadata `json:"payload"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodPost, s.collectionURL(tenant)+"/points/search", req, &resp)
	if err != nil || !found {
		return nil, err
	}
	candidates := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		// cosine similarity to cosine distance
		candidates = append(candidates, domain.SearchResult{
			Chunk:    r.Payload.Chunk(),
			Distance: 1 - r.Score,
			Metric:   domain.MetricCosine,
		})
	}
	return vectorstore.FilterTenant(s.logger, tenant, candidates, k), nil
}

func (s *Storage) Info(ctx context.Context, tenant domain.TenantID) (domain.NamespaceInfo, error) {
	info := domain.NamespaceInfo{Tenant: tenant, Backend: s.Backend()}
	if err := tenant.Validate(); err != nil {
		return info, err
	}
	var out struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodGet, s.collectionURL(tenant), nil, &out)
	if err != nil || !found {
		return info, err
	}
	info.Count = out.Result.PointsCount
	return info, nil
}

func (s *Storage) DeleteNamespace(ctx context.Context, tenant domain.TenantID) (bool, error) {
	if err := tenant.Validate(); err != nil {
		return false, err
	}
	found, err := s.do(ctx, http.MethodGet, s.collectionURL(tenant), nil, nil)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.do(ctx, http.MethodDelete, s.collectionURL(tenant), nil, nil); err != nil {
		return false, err
	}
	s.logger.Info("deleted collection", zap.String("tenant_id", tenant.String()))
	return true, nil
}

func (s *Storage) PruneDocument(ctx context.Context, tenant domain.TenantID, documentID string, keep int) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "tenant_id", "match": map[string]any{"value": tenant.String()}},
			{"key": "document_id", "match": map[string]any{"value": documentID}},
			{"key": "chunk_index", "range": map[string]any{"gte": keep}},
		},
	}
	var counted struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	found, err := s.do(ctx, http.MethodPost, s.collectionURL(tenant)+"/points/count", map[string]any{"filter": filter, "exact": true}, &counted)
	if err != nil || !found || counted.Result.Count == 0 {
		return 0, err
	}
	found, err = s.do(ctx, http.MethodPost, s.collectionURL(tenant)+"/points/delete?wait=true", map[string]any{"filter": filter}, nil)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("delete %d stale points: collection %s not found", counted.Result.Count, tenant.Namespace())
	}
	return counted.Result.Count, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends a JSON request. A 404 is reported as found=false with no error.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return true, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return true, nil
}
