package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tenantrag/internal/domain"
	"tenantrag/internal/logging"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	Dimensions  int    `yaml:"dimensions,omitempty"`
}

// GeminiEmbedderConfig holds configuration for the Gemini embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
}

// HashingEmbedderConfig configures the offline embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// CacheConfig enables the in-process embedding cache when Size > 0.
type CacheConfig struct {
	Size    int `yaml:"size"`
	TTLSecs int `yaml:"ttl_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Gemini  *GeminiEmbedderConfig  `yaml:"gemini,omitempty"`
	Cache   CacheConfig            `yaml:"cache"`
}

// CompletionConfig selects the generative model used to phrase answers.
type CompletionConfig struct {
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type         string `yaml:"type"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Memory   *MemoryConfig   `yaml:"memory,omitempty"`
	Chroma   *ChromaConfig   `yaml:"chroma,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// MemoryConfig configures the flat index. An empty Path disables persistence.
type MemoryConfig struct {
	Path   string `yaml:"path"`
	Metric string `yaml:"metric"`
}

// ChromaConfig contains the Chroma server address.
type ChromaConfig struct {
	URL string `yaml:"url"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig points at a Postgres database with the vector extension.
type PGVectorConfig struct {
	DSNEnv string `yaml:"dsn_env"`
	Metric string `yaml:"metric"`
}

// RetrievalConfig tunes the query path.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// SummarizerConfig configures the ingest digest.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         logging.Config    `yaml:"log"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Completion  CompletionConfig  `yaml:"completion"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/tenantrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/tenantrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown component types and impossible chunk settings.
func (c *AppConfig) Validate() error {
	check := func(kind, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("%w: %s %q", domain.ErrUnsupportedBackend, kind, value)
	}
	if err := check("chunker", c.Chunker.Type, "boundary", "recursive"); err != nil {
		return err
	}
	if err := check("embedder", c.Embedder.Type, "hashing", "openai", "gemini"); err != nil {
		return err
	}
	if err := check("completion", c.Completion.Type, "none", "openai", "gemini"); err != nil {
		return err
	}
	if err := check("vector store", c.VectorStore.Type, "memory", "chroma", "qdrant", "pgvector"); err != nil {
		return err
	}
	if c.Chunker.ChunkSize <= 0 || c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be smaller than chunk_size %d", domain.ErrConfiguration, c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", domain.ErrConfiguration)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tenantrag", "config.yaml"), nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tenantrag-data")
	}
	return filepath.Join(home, ".local", "share", "tenantrag", "index")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Log:         logging.Config{Level: "info", Format: "console"},
		Chunker:     ChunkerConfig{Type: "boundary", ChunkSize: 1000, ChunkOverlap: 200},
		Embedder:    EmbedderConfig{Type: "hashing"},
		Completion:  CompletionConfig{Type: "none"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Retrieval:   RetrievalConfig{TopK: 3},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "boundary"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.ChunkOverlap == 0 && cfg.Chunker.ChunkSize > 200 {
		cfg.Chunker.ChunkOverlap = 200
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 256
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiEmbedderConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Gemini.Model == "" {
			cfg.Embedder.Gemini.Model = "text-embedding-004"
		}
		if cfg.Embedder.Gemini.BatchSize == 0 {
			cfg.Embedder.Gemini.BatchSize = 100
		}
		if cfg.Embedder.Gemini.Dimension == 0 {
			cfg.Embedder.Gemini.Dimension = 768
		}
	}

	if cfg.Completion.Type == "" {
		cfg.Completion.Type = "none"
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 500
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.1
	}
	if cfg.Completion.TimeoutSecs == 0 {
		cfg.Completion.TimeoutSecs = 60
	}
	if cfg.Completion.APIKeyEnv == "" {
		switch cfg.Completion.Type {
		case "openai":
			cfg.Completion.APIKeyEnv = "OPENAI_API_KEY"
		case "gemini":
			cfg.Completion.APIKeyEnv = "GEMINI_API_KEY"
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	switch cfg.VectorStore.Type {
	case "memory":
		if cfg.VectorStore.Memory == nil {
			cfg.VectorStore.Memory = &MemoryConfig{Path: defaultDataDir()}
		}
		if cfg.VectorStore.Memory.Metric == "" {
			cfg.VectorStore.Memory.Metric = "l2"
		}
	case "chroma":
		if cfg.VectorStore.Chroma == nil {
			cfg.VectorStore.Chroma = &ChromaConfig{}
		}
		if cfg.VectorStore.Chroma.URL == "" {
			cfg.VectorStore.Chroma.URL = "http://localhost:8000"
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	case "pgvector":
		if cfg.VectorStore.PGVector == nil {
			cfg.VectorStore.PGVector = &PGVectorConfig{}
		}
		if cfg.VectorStore.PGVector.DSNEnv == "" {
			cfg.VectorStore.PGVector.DSNEnv = "TENANTRAG_PG_DSN"
		}
		if cfg.VectorStore.PGVector.Metric == "" {
			cfg.VectorStore.PGVector.Metric = "l2"
		}
	}
}
