// Package app wires the retrieval components selected by configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"tenantrag/internal/answer"
	"tenantrag/internal/chunker"
	geminicompletion "tenantrag/internal/completion/gemini"
	openaicompletion "tenantrag/internal/completion/openai"
	"tenantrag/internal/config"
	"tenantrag/internal/domain"
	"tenantrag/internal/embedding"
	geminiembedding "tenantrag/internal/embedding/gemini"
	"tenantrag/internal/embedding/hashing"
	openaiembedding "tenantrag/internal/embedding/openai"
	"tenantrag/internal/extract"
	"tenantrag/internal/service"
	"tenantrag/internal/summarizer"
	"tenantrag/internal/vectorstore/chroma"
	"tenantrag/internal/vectorstore/memory"
	"tenantrag/internal/vectorstore/pgvector"
	"tenantrag/internal/vectorstore/qdrant"
)

// App owns the shared collaborators of every request pipeline.
type App struct {
	Deps service.Deps
}

// Build constructs every component named in cfg. The returned App must be
// closed to release the vector index.
func Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch, err := NewChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbedder(ctx, cfg.Embedder, logger)
	if err != nil {
		return nil, err
	}
	completer, err := NewCompleter(ctx, cfg.Completion)
	if err != nil {
		return nil, err
	}
	idx, err := NewIndex(ctx, cfg.VectorStore, logger)
	if err != nil {
		return nil, err
	}
	assembler := answer.New(completer,
		answer.WithMaxTokens(cfg.Completion.MaxTokens),
		answer.WithTemperature(cfg.Completion.Temperature),
		answer.WithLogger(logger))

	logger.Debug("components ready",
		zap.String("embedder", emb.Name()),
		zap.String("backend", idx.Backend()),
		zap.Bool("generative", completer != nil))
	return &App{Deps: service.Deps{
		Chunker:   ch,
		Embedder:  emb,
		Index:     idx,
		Assembler: assembler,
		Extractor: extract.New(),
		Digester:  summarizer.New(cfg.Summarizer.MaxSentences),
		Logger:    logger,
		TopK:      cfg.Retrieval.TopK,
	}}, nil
}

// Pipeline returns a pipeline bound to tenant.
func (a *App) Pipeline(tenant domain.TenantID) (*service.Pipeline, error) {
	return service.NewPipeline(a.Deps, tenant)
}

func (a *App) Close() error {
	if a == nil || a.Deps.Index == nil {
		return nil
	}
	return a.Deps.Index.Close()
}

func NewChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "", "boundary":
		return chunker.NewBoundary(chunker.WithSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	case "recursive":
		return chunker.NewRecursive(cfg.ChunkSize, cfg.ChunkOverlap)
	default:
		return nil, fmt.Errorf("%w: chunker %q", domain.ErrUnsupportedBackend, cfg.Type)
	}
}

// NewEmbedder returns the configured embedder, wrapped in a cache when one is
// configured.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig, logger *zap.Logger) (domain.Embedder, error) {
	var (
		emb domain.Embedder
		err error
	)
	switch cfg.Type {
	case "", "hashing":
		dim := hashing.DefaultDimension
		if cfg.Hashing != nil && cfg.Hashing.Dimension > 0 {
			dim = cfg.Hashing.Dimension
		}
		emb = hashing.NewEmbedder(dim)
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{APIKeyEnv: "OPENAI_API_KEY"}
		}
		emb, err = openaiembedding.NewClient(openaiembedding.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize:  oc.BatchSize,
			Dimensions: oc.Dimensions,
		}, logger)
	case "gemini":
		gc := cfg.Gemini
		if gc == nil {
			gc = &config.GeminiEmbedderConfig{APIKeyEnv: "GEMINI_API_KEY"}
		}
		emb, err = geminiembedding.New(ctx, geminiembedding.Config{
			APIKeyEnv: gc.APIKeyEnv,
			Model:     gc.Model,
			BatchSize: gc.BatchSize,
			Dimension: gc.Dimension,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: embedder %q", domain.ErrUnsupportedBackend, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Size > 0 {
		ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
		if ttl <= 0 {
			ttl = time.Hour
		}
		emb = embedding.WithCache(emb, cfg.Cache.Size, ttl)
	}
	return emb, nil
}

// NewCompleter returns nil for type "none"; answers are then always extracted.
func NewCompleter(ctx context.Context, cfg config.CompletionConfig) (domain.Completer, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "openai":
		return openaicompletion.New(openaicompletion.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		})
	case "gemini":
		return geminicompletion.New(ctx, geminicompletion.Config{
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
		})
	default:
		return nil, fmt.Errorf("%w: completion %q", domain.ErrUnsupportedBackend, cfg.Type)
	}
}

func NewIndex(ctx context.Context, cfg config.VectorStoreConfig, logger *zap.Logger) (domain.VectorIndex, error) {
	switch cfg.Type {
	case "", "memory":
		mc := config.MemoryConfig{}
		if cfg.Memory != nil {
			mc = *cfg.Memory
		}
		return memory.NewStorage(memory.Config{Path: mc.Path, Metric: domain.Metric(mc.Metric)}, logger)
	case "chroma":
		cc := config.ChromaConfig{}
		if cfg.Chroma != nil {
			cc = *cfg.Chroma
		}
		return chroma.NewStorage(chroma.Config{URL: cc.URL}, logger)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("%w: vector_store.qdrant is required", domain.ErrConfiguration)
		}
		qc := cfg.Qdrant
		var key string
		if qc.APIKeyEnv != "" {
			key = os.Getenv(qc.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:     qc.URL,
			APIKey:  key,
			Timeout: time.Duration(qc.TimeoutSecs) * time.Second,
		}, logger)
	case "pgvector":
		if cfg.PGVector == nil {
			return nil, fmt.Errorf("%w: vector_store.pgvector is required", domain.ErrConfiguration)
		}
		dsn := os.Getenv(cfg.PGVector.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("%w: missing postgres dsn in env %q", domain.ErrConfiguration, cfg.PGVector.DSNEnv)
		}
		return pgvector.Open(ctx, pgvector.Config{DSN: dsn, Metric: domain.Metric(cfg.PGVector.Metric)}, logger)
	default:
		return nil, fmt.Errorf("%w: vector store %q", domain.ErrUnsupportedBackend, cfg.Type)
	}
}
