package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantrag/internal/domain"
)

func TestCompleter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " Twenty days. "}}]
		}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_COMPLETION_KEY", "k")
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_COMPLETION_KEY"})
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), domain.CompletionRequest{System: "sys", Prompt: "q", MaxTokens: 500, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "Twenty days.", text)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 500, body["max_tokens"])
	assert.InDelta(t, 0.1, body["temperature"], 1e-9)
	assert.Len(t, body["messages"], 2)
}

func TestCompleterErrors(t *testing.T) {
	t.Setenv("TEST_COMPLETION_EMPTY", "")
	_, err := New(Config{APIKeyEnv: "TEST_COMPLETION_EMPTY"})
	require.ErrorIs(t, err, domain.ErrCompletionUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	t.Setenv("TEST_COMPLETION_KEY", "k")
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_COMPLETION_KEY"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), domain.CompletionRequest{Prompt: "q"})
	require.ErrorIs(t, err, domain.ErrExternalService)
}
