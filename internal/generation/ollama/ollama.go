// Package ollama answers prompts through Ollama's /api/chat endpoint.
package ollama

import (
	"context"
	"net/http"
	"strings"

	"ragterm/internal/domain"
	"ragterm/internal/generation"
	"ragterm/internal/httpjson"
	"ragterm/internal/retry"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwen2.5-coder:14b"
)

// Config configures the Ollama generator.
type Config struct {
	BaseURL string
	Model   string
	// Options is passed through verbatim, e.g. {"temperature": 0}.
	Options map[string]any
	Retry   retry.Policy
}

// Client is a non-streaming Ollama chat client.
type Client struct {
	baseURL string
	model   string
	options map[string]any
	policy  retry.Policy
	http    *httpjson.Client
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []generation.Message `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type chatResponse struct {
	Message *generation.Message `json:"message"`
	Error   string              `json:"error,omitempty"`
}

// New creates an Ollama generator.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		options: cfg.Options,
		policy:  cfg.Retry,
		http:    httpjson.New(nil),
	}
}

// Model returns the chat model name.
func (c *Client) Model() string { return c.model }

// Generate sends the prompt and returns the cleaned answer text.
func (c *Client) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	const op = "ollama.chat"
	req := chatRequest{
		Model:    c.model,
		Messages: generation.Messages(p),
		Options:  c.options,
	}
	return retry.Do(ctx, c.policy, op, func(ctx context.Context) (string, error) {
		var resp chatResponse
		if err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/chat", req, &resp); err != nil {
			return "", httpjson.Classify(domain.KindGeneration, op, err)
		}
		if resp.Error != "" {
			return "", domain.NewError(domain.KindGeneration, domain.ReasonRemoteRejected, op, resp.Error, nil)
		}
		if resp.Message == nil {
			return "", generation.EmptyAnswer(op)
		}
		answer := generation.Clean(resp.Message.Content)
		if answer == "" {
			return "", generation.EmptyAnswer(op)
		}
		return answer, nil
	})
}
