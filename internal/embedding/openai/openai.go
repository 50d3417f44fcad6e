package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/embedding"
)

const serviceName = "openai-embeddings"

// knownDimensions lists output sizes of common models so Dimension is
// correct before the first request.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
}

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// It also understands the Ollama batch response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	dimensions int
	client     *http.Client
	maxRetries int
	logger     *zap.Logger
	wait       func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	BatchSize int
	// Dimensions requests shortened vectors from models that support it.
	Dimensions int
	// MaxRetries bounds retries after the first attempt. Zero means 5, a
	// negative value disables retries.
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %q", domain.ErrEmbeddingUnavailable, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = knownDimensions[cfg.Model]
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: max(cfg.MaxRetries, 0),
		logger:     logger.With(zap.String("embedder", "openai"), zap.String("model", cfg.Model)),
		wait:       sleep,
		dimension:  dim,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality of the produced embedding vectors. For
// unknown models it is learned from the first response.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in provider-sized batches, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := embedding.InBatches(ctx, texts, c.batchSize, c.embedOnce)
	if err != nil {
		return nil, domain.External(serviceName, err)
	}
	if err := c.checkDimension(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Client) checkDimension(vectors [][]float32) error {
	c.mu.Lock()
	if c.dimension == 0 && len(vectors) > 0 {
		c.dimension = len(vectors[0])
	}
	dim := c.dimension
	c.mu.Unlock()
	return embedding.CheckDimension(vectors, dim)
}

type request struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type response struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama /api/embed shape.
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(request{Input: texts, Model: c.model, Dimensions: c.dimensions})
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying embeddings request", zap.Int("attempt", attempt), zap.Error(lastErr))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt == c.maxRetries {
				break
			}
			if sleepErr := c.wait(ctx, retryDelay(attempt)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("openai embeddings failed: %s", resp.Status)
			wait := retryDelay(attempt)
			// Respect Retry-After if provided
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(secs) * time.Second
			}
			if attempt == c.maxRetries {
				break
			}
			if sleepErr := c.wait(ctx, wait); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("openai embeddings failed: %s: %s", resp.Status, bytes.TrimSpace(payload))
		}
		if err != nil {
			lastErr = err
			continue
		}
		return decode(payload, len(texts))
	}
	if lastErr == nil {
		lastErr = errors.New("no embedding returned")
	}
	return nil, lastErr
}

func decode(payload []byte, want int) ([][]float32, error) {
	var out response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) > 0 {
		sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vectors := make([][]float32, len(out.Data))
		for i, d := range out.Data {
			vectors[i] = d.Embedding
		}
		return vectors, nil
	}
	if len(out.Embeddings) > 0 {
		return out.Embeddings, nil
	}
	return nil, fmt.Errorf("no embedding returned for %d inputs", want)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
