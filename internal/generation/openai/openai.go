// Package openai answers prompts through an OpenAI-compatible chat
// completions API.
package openai

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ragterm/internal/domain"
	"ragterm/internal/generation"
	"ragterm/internal/httpjson"
	"ragterm/internal/retry"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Config configures the chat completions client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
	Retry       retry.Policy
}

// Client is a non-streaming chat completions client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	policy      retry.Policy
}

// NewClient creates a generator. As with embeddings, the API key is only
// required for the hosted endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" && strings.HasPrefix(cfg.BaseURL, DefaultBaseURL) {
		return nil, domain.NewError(domain.KindConfig, "", "openai.NewClient", fmt.Sprintf("missing API key in env %s", cfg.APIKeyEnv), nil)
	}

	oc := openai.DefaultConfig(key)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		policy:      cfg.Retry,
	}, nil
}

// Model returns the chat model name.
func (c *Client) Model() string { return c.model }

// Generate returns the first choice's content.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	const op = "openai.chat"
	msgs := generation.Messages(p)
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, len(msgs)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for i, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == generation.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		req.Messages[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	return retry.Do(ctx, c.policy, op, func(ctx context.Context) (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", httpjson.Classify(domain.KindGeneration, op, httpjson.FromOpenAI(err))
		}
		if len(resp.Choices) == 0 {
			return "", generation.EmptyAnswer(op)
		}
		answer := generation.Clean(resp.Choices[0].Message.Content)
		if answer == "" {
			return "", generation.EmptyAnswer(op)
		}
		return answer, nil
	})
}
