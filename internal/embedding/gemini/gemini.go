package gemini

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"tenantrag/internal/domain"
	"tenantrag/internal/embedding"
)

const serviceName = "gemini-embeddings"

// Task types understood by the Gemini embedding API.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type Config struct {
	APIKeyEnv string
	Model     string
	BatchSize int
	Dimension int
}

// Embedder calls the Gemini embedding API through the genai SDK.
type Embedder struct {
	client    *genai.Client
	model     string
	batchSize int
	dimension int
	logger    *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Embedder, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %q", domain.ErrEmbeddingUnavailable, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", domain.ErrEmbeddingUnavailable, err)
	}
	return &Embedder{
		client:    client,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		dimension: cfg.Dimension,
		logger:    logger.With(zap.String("embedder", "gemini"), zap.String("model", cfg.Model)),
	}, nil
}

func (e *Embedder) Name() string   { return "gemini:" + e.model }
func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts, TaskRetrievalDocument)
}

func (e *Embedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	dim := int32(e.dimension)
	config := &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	}
	vectors, err := embedding.InBatches(ctx, texts, e.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		contents := make([]*genai.Content, len(batch))
		for i, text := range batch {
			contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
		}
		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
		if err != nil {
			return nil, err
		}
		out := make([][]float32, 0, len(resp.Embeddings))
		for _, emb := range resp.Embeddings {
			if emb == nil {
				return nil, fmt.Errorf("empty embedding in response")
			}
			out = append(out, emb.Values)
		}
		e.logger.Debug("embedded batch", zap.Int("texts", len(batch)))
		return out, nil
	})
	if err != nil {
		return nil, domain.External(serviceName, err)
	}
	if err := embedding.CheckDimension(vectors, e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}
