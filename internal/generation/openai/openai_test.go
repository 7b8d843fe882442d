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

	"ragterm/internal/domain"
	"ragterm/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, RateLimitWait: time.Millisecond, AttemptTimeout: time.Second}
}

const completion = `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
	"choices":[{"index":0,"message":{"role":"assistant","content":"Thirty days."},"finish_reason":"stop"}]}`

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("RAGTERM_TEST_KEY", "sk-test")
	c, err := NewClient(Config{BaseURL: url + "/v1", APIKeyEnv: "RAGTERM_TEST_KEY", Retry: testPolicy()})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKeyForHostedAPI(t *testing.T) {
	t.Setenv("RAGTERM_TEST_KEY", "")

	_, err := NewClient(Config{APIKeyEnv: "RAGTERM_TEST_KEY"})

	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestGenerate_ReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion))
	}))
	defer srv.Close()

	answer, err := newClient(t, srv.URL).Generate(context.Background(), domain.Prompt{System: "sys", User: "refunds?"})

	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", answer)
}

func TestGenerate_RateLimitThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(completion))
	}))
	defer srv.Close()

	answer, err := newClient(t, srv.URL).Generate(context.Background(), domain.Prompt{User: "q"})

	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_RejectedRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Generate(context.Background(), domain.Prompt{User: "q"})

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonRemoteRejected})
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Generate(context.Background(), domain.Prompt{User: "q"})

	assert.ErrorIs(t, err, domain.ErrGeneration)
}
