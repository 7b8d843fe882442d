// Package openai embeds text through any OpenAI-compatible /embeddings API
// (OpenAI, Ollama's /v1, LM Studio, vLLM).
package openai

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ragterm/internal/domain"
	"ragterm/internal/httpjson"
	"ragterm/internal/retry"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Retry     retry.Policy
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	api    *openai.Client
	model  string
	policy retry.Policy
}

// NewClient creates an embeddings client. The API key is read from the
// environment variable named by APIKeyEnv; it is only required for the
// hosted OpenAI endpoint.
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
		api:    openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		policy: cfg.Retry,
	}, nil
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// Embed returns one vector per text, ordered by the response indices.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	const op = "openai.embeddings"
	return retry.Do(ctx, c.policy, op, func(ctx context.Context) ([][]float32, error) {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: texts,
		})
		if err != nil {
			return nil, httpjson.Classify(domain.KindEmbedding, op, httpjson.FromOpenAI(err))
		}

		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, fmt.Sprintf("response index %d out of range", d.Index), nil)
			}
			v := make([]float32, len(d.Embedding))
			for i := range d.Embedding {
				v[i] = float32(d.Embedding[i])
			}
			out[d.Index] = v
		}
		for i, v := range out {
			if v == nil {
				return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, fmt.Sprintf("no embedding returned for input %d", i), nil)
			}
		}
		return out, nil
	})
}
