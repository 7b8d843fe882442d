package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

func TestClient_DoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := New(map[string]string{"api-key": "secret"})
	var out map[string]string
	err := c.Do(context.Background(), http.MethodPost, srv.URL, map[string]string{"msg": "hi"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "hi", out["echo"])
}

func TestClient_DoReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := New(nil).Do(context.Background(), http.MethodGet, srv.URL, nil, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	assert.Equal(t, 2*time.Second, ParseRetryAfter("2"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 5*time.Second)
}

func TestClassify(t *testing.T) {
	status := func(code int) error { return &StatusError{Code: code, Status: fmt.Sprint(code)} }

	tests := []struct {
		name string
		kind domain.Kind
		err  error
		want *domain.Error
	}{
		{"embed 500", domain.KindEmbedding, status(500), &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonTransient}},
		{"embed 429", domain.KindEmbedding, status(429), &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonRateLimited}},
		{"embed 401", domain.KindEmbedding, status(401), &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonPermanent}},
		{"embed network", domain.KindEmbedding, errors.New("connection refused"), &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonTransient}},
		{"embed deadline", domain.KindEmbedding, context.DeadlineExceeded, &domain.Error{Kind: domain.KindEmbedding, Reason: domain.ReasonTimeout}},
		{"gen 400", domain.KindGeneration, status(400), &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonRemoteRejected}},
		{"gen network", domain.KindGeneration, errors.New("no route"), &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonUnreachable}},
		{"gen deadline", domain.KindGeneration, context.DeadlineExceeded, &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonTimeout}},
		{"store 503", domain.KindStoreUnavailable, status(503), &domain.Error{Kind: domain.KindStoreUnavailable}},
		{"store 400", domain.KindStoreUnavailable, status(400), &domain.Error{Kind: domain.KindStoreRejected}},
		{"cancelled", domain.KindEmbedding, context.Canceled, &domain.Error{Kind: domain.KindCancelled}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.kind, "op", tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassify_KeepsDomainErrors(t *testing.T) {
	orig := domain.InvalidInput("op", "bad")

	assert.Same(t, orig, Classify(domain.KindEmbedding, "op", orig))
	assert.NoError(t, Classify(domain.KindEmbedding, "op", nil))
}
