package domain

import (
	"context"
	"time"
)

// Document represents a single source text owned by one tenant.
type Document struct {
	ID       string
	TenantID TenantID
	Name     string
	Kind     string
	Content  string
}

// Characters returns the rune length of the document content.
func (d Document) Characters() int { return len([]rune(d.Content)) }

// Chunk is a contiguous slice of a document's cleaned text used for indexing.
// TenantID is propagated from the owning document and never inferred.
type Chunk struct {
	ID         string
	DocumentID string
	TenantID   TenantID
	Source     string
	Kind       string
	Text       string
	Length     int
	Index      int
	Total      int
}

// EmbeddedChunk pairs a chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// SearchResult represents a matching chunk with the raw distance reported by the index.
type SearchResult struct {
	Chunk    Chunk
	Distance float64
	Metric   Metric
}

// Relevance converts the raw distance into a score in [0,1].
func (r SearchResult) Relevance() float64 { return RelevanceScore(r.Metric, r.Distance) }

// Source is a citation attached to an answer.
type Source struct {
	Name       string
	DocumentID string
	ChunkID    string
	Score      float64
}

// Answer is the user-facing result of a question.
type Answer struct {
	Question   string
	Text       string
	Sources    []Source
	Confidence float64
	Generated  bool
}

// IngestResult is reported back to the persistence collaborator after a
// document has been fully indexed.
type IngestResult struct {
	DocumentID    string
	ChunksCreated int
	Characters    int
	Summary       string
	ProcessedAt   time.Time
}

// NamespaceInfo describes one tenant namespace.
type NamespaceInfo struct {
	Tenant  TenantID
	Count   int
	Backend string
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Embedder converts free text into fixed-dimension vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest is a single generative completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces generated text for a prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// VectorIndex persists embedded chunks and answers nearest-neighbor queries.
// Tenant isolation is enforced by every implementation, not only by callers.
type VectorIndex interface {
	Backend() string
	Add(ctx context.Context, tenant TenantID, chunks []EmbeddedChunk) error
	Search(ctx context.Context, tenant TenantID, vector []float32, k int) ([]SearchResult, error)
	Info(ctx context.Context, tenant TenantID) (NamespaceInfo, error)
	DeleteNamespace(ctx context.Context, tenant TenantID) (bool, error)
	// PruneDocument removes the chunks of documentID whose index is >= keep.
	PruneDocument(ctx context.Context, tenant TenantID, documentID string, keep int) (int, error)
	Close() error
}

// TextExtractor reads the raw text of a file.
type TextExtractor interface {
	ExtractText(path string) (string, error)
}
