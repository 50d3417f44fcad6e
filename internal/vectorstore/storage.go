// Package vectorstore holds the tenant isolation rules shared by every
// VectorIndex backend.
package vectorstore

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"tenantrag/internal/domain"
)

// Over-fetch factors applied before tenant filtering.
const (
	ServerOverFetch = 2
	FlatOverFetch   = 3
)

// Metadata is the persisted form of a chunk's descriptive fields. Backends
// store it as a payload, metadata map or side file.
type Metadata struct {
	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	ChunkID     string `json:"chunk_id"`
	Source      string `json:"source"`
	Kind        string `json:"kind,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Length      int    `json:"length"`
	Text        string `json:"text,omitempty"`
}

func MetadataOf(c domain.Chunk) Metadata {
	return Metadata{
		TenantID:    string(c.TenantID),
		DocumentID:  c.DocumentID,
		ChunkID:     c.ID,
		Source:      c.Source,
		Kind:        c.Kind,
		ChunkIndex:  c.Index,
		TotalChunks: c.Total,
		Length:      c.Length,
		Text:        c.Text,
	}
}

// Chunk rebuilds a chunk. The tenant is taken from the stored metadata only,
// so a record without one surfaces as an empty TenantID.
func (m Metadata) Chunk() domain.Chunk {
	return domain.Chunk{
		ID:         m.ChunkID,
		DocumentID: m.DocumentID,
		TenantID:   domain.TenantID(m.TenantID),
		Source:     m.Source,
		Kind:       m.Kind,
		Text:       m.Text,
		Length:     m.Length,
		Index:      m.ChunkIndex,
		Total:      m.TotalChunks,
	}
}

// ValidateChunks rejects a batch unless every chunk carries tenant and a
// non-empty id, and all vectors share one dimension. It returns that dimension.
func ValidateChunks(tenant domain.TenantID, chunks []domain.EmbeddedChunk) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	dim := 0
	for i, c := range chunks {
		if c.TenantID == "" {
			return 0, &domain.IntegrityError{Tenant: tenant, ChunkID: c.ID, Reason: "chunk has no tenant id"}
		}
		if c.TenantID != tenant {
			return 0, &domain.IntegrityError{Tenant: tenant, Found: c.TenantID, ChunkID: c.ID, Reason: "chunk added to foreign namespace"}
		}
		if c.ID == "" {
			return 0, fmt.Errorf("chunk %d of document %q has no id", i, c.DocumentID)
		}
		if len(c.Vector) == 0 {
			return 0, fmt.Errorf("%w: chunk %q has no vector", domain.ErrDimensionMismatch, c.ID)
		}
		if dim == 0 {
			dim = len(c.Vector)
		} else if len(c.Vector) != dim {
			return 0, fmt.Errorf("%w: chunk %q has %d dimensions, batch has %d", domain.ErrDimensionMismatch, c.ID, len(c.Vector), dim)
		}
	}
	return dim, nil
}

// OverFetch returns how many candidates to request for k results.
func OverFetch(k, factor int) int {
	if k <= 0 {
		return 0
	}
	return k * max(factor, 1)
}

// FilterTenant keeps only candidates owned by tenant, ordered by increasing
// distance and truncated to k. Candidates without a tenant are dropped with a
// data-integrity warning.
func FilterTenant(logger *zap.Logger, tenant domain.TenantID, candidates []domain.SearchResult, k int) []domain.SearchResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]domain.SearchResult, 0, min(k, len(candidates)))
	for _, r := range candidates {
		switch r.Chunk.TenantID {
		case tenant:
			out = append(out, r)
		case "":
			logger.Warn("dropping search result without tenant metadata",
				zap.String("tenant_id", tenant.String()),
				zap.String("chunk_id", r.Chunk.ID))
		default:
			logger.Debug("dropping foreign tenant candidate",
				zap.String("tenant_id", tenant.String()),
				zap.String("chunk_id", r.Chunk.ID))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
