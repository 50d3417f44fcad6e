package openai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"tenantrag/internal/domain"
)

const serviceName = "openai-completion"

type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Completer generates answers with the OpenAI chat completions API.
type Completer struct {
	client openai.Client
	model  string
}

func New(cfg Config) (*Completer, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %q", domain.ErrCompletionUnavailable, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Completer{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (c *Completer) Name() string { return "openai:" + c.model }

func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", domain.External(serviceName, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.External(serviceName, fmt.Errorf("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
