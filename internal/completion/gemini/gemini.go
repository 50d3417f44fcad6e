package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"tenantrag/internal/domain"
)

const serviceName = "gemini-completion"

type Config struct {
	APIKeyEnv string
	Model     string
}

// Completer generates answers with Gemini through the genai SDK.
type Completer struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Completer, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %q", domain.ErrCompletionUnavailable, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %v", domain.ErrCompletionUnavailable, err)
	}
	return &Completer{client: client, model: cfg.Model}, nil
}

func (c *Completer) Name() string { return "gemini:" + c.model }

func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Prompt}}}},
		config,
	)
	if err != nil {
		return "", domain.External(serviceName, err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
