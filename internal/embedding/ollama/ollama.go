// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ragterm/internal/domain"
	"ragterm/internal/httpjson"
	"ragterm/internal/retry"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
)

// Config configures the Ollama embedder.
type Config struct {
	BaseURL string
	Model   string
	Retry   retry.Policy
}

// Client calls /api/embed, falling back to the legacy single-prompt
// /api/embeddings endpoint on servers that predate batch embedding.
type Client struct {
	baseURL string
	model   string
	policy  retry.Policy
	http    *httpjson.Client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

type legacyRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type legacyResponse struct {
	Embedding []float64 `json:"embedding"`
}

// New creates an Ollama embedder.
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
		policy:  cfg.Retry,
		http:    httpjson.New(nil),
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// Embed returns one vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	const op = "ollama.embed"
	return retry.Do(ctx, c.policy, op, func(ctx context.Context) ([][]float32, error) {
		var resp embedResponse
		err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/embed", embedRequest{Model: c.model, Input: texts}, &resp)
		if isMissingEndpoint(err) {
			return c.embedLegacy(ctx, texts)
		}
		if err != nil {
			return nil, httpjson.Classify(domain.KindEmbedding, op, err)
		}
		if resp.Error != "" {
			return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, resp.Error, nil)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, "embedding count does not match input count", nil)
		}
		out := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			out[i] = toFloat32(e)
		}
		return out, nil
	})
}

func (c *Client) embedLegacy(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "ollama.embeddings"
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var resp legacyResponse
		if err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/api/embeddings", legacyRequest{Model: c.model, Prompt: t}, &resp); err != nil {
			return nil, httpjson.Classify(domain.KindEmbedding, op, err)
		}
		if len(resp.Embedding) == 0 {
			return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, "empty embedding", nil)
		}
		out[i] = toFloat32(resp.Embedding)
	}
	return out, nil
}

// isMissingEndpoint distinguishes an unknown route from a missing model,
// which Ollama also reports as 404.
func isMissingEndpoint(err error) bool {
	var se *httpjson.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return false
	}
	return !strings.Contains(strings.ToLower(se.Body), "model")
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
