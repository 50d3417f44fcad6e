package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

func newTestClient(t *testing.T, url string, batch int) *Client {
	t.Setenv("TEST_EMBED_KEY", "secret")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "TEST_EMBED_KEY", Model: "custom", BatchSize: batch, MaxRetries: 2}, nil)
	require.NoError(t, err)
	return c
}

func TestClientBatchesAndOrders(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		items := make([]item, len(req.Input))
		// reversed on purpose, clients must sort by index
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			items[i] = item{Index: j, Embedding: []float32{float32(len(req.Input[j])), 1}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	assert.Equal(t, 0, c.Dimension())
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}}, vectors)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Equal(t, 2, c.Dimension())
}

func TestClientRetriesOnTooManyRequests(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings": [[0.5, 0.5]]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv.URL, 10).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClientErrors(t *testing.T) {
	t.Run("missing key is a configuration error", func(t *testing.T) {
		t.Setenv("TEST_EMPTY_KEY", "")
		_, err := NewClient(Config{APIKeyEnv: "TEST_EMPTY_KEY"}, nil)
		require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
		assert.True(t, domain.IsFatal(err))
	})

	t.Run("client error is an external service error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad model", http.StatusBadRequest)
		}))
		defer srv.Close()
		_, err := newTestClient(t, srv.URL, 10).Embed(context.Background(), "x")
		require.ErrorIs(t, err, domain.ErrExternalService)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("dimension drift", func(t *testing.T) {
		var n int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&n, 1) == 1 {
				_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [1, 2]}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [1, 2, 3]}]}`))
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL, 10)
		_, err := c.Embed(context.Background(), "x")
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), "y")
		require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}

func TestClientRetryBudget(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "secret")
	newClient := func(t *testing.T, url string, retries int) (*Client, *[]time.Duration) {
		c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "TEST_EMBED_KEY", MaxRetries: retries}, nil)
		require.NoError(t, err)
		var waits []time.Duration
		c.wait = func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}
		return c, &waits
	}

	t.Run("network errors do not wait after the last attempt", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, waits := newClient(t, url, 2)
		_, err := c.Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Equal(t, []time.Duration{retryDelay(0), retryDelay(1)}, *waits)
	})

	t.Run("negative disables retries", func(t *testing.T) {
		var requests int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c, waits := newClient(t, srv.URL, -1)
		_, err := c.Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
		assert.Empty(t, *waits)
	})

	t.Run("zero uses the default", func(t *testing.T) {
		c, _ := newClient(t, "http://127.0.0.1:1", 0)
		assert.Equal(t, 5, c.maxRetries)
	})
}
