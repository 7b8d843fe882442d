package ollama

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

	"ragterm/internal/domain"
	"ragterm/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, RateLimitWait: time.Millisecond, AttemptTimeout: time.Second}
}

func TestEmbed_BatchEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{0.1, 0.2}, {0.3, 0.4}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Retry: testPolicy()})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
	assert.Equal(t, "nomic-embed-text", c.Model())
}

func TestEmbed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{1}}})
	}))
	defer srv.Close()

	vecs, err := New(Config{BaseURL: srv.URL, Retry: testPolicy()}).Embed(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"input too long"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Retry: testPolicy()}).Embed(context.Background(), []string{"x"})

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonPermanent})
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbed_FallsBackToLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embeddings":
			var req legacyRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(legacyResponse{Embedding: []float64{float64(len(req.Prompt))}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	vecs, err := New(Config{BaseURL: srv.URL, Retry: testPolicy()}).Embed(context.Background(), []string{"a", "bbb"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {3}}, vecs)
}

func TestEmbed_MissingModelIsNotLegacyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		http.Error(w, `{"error":"model \"nope\" not found, try pulling it first"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Model: "nope", Retry: testPolicy()}).Embed(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonPermanent})
}

func TestEmbed_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Retry: testPolicy()}).Embed(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonTransient})
}
