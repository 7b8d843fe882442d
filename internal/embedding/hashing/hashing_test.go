package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbed_NormalizedAndDeterministic(t *testing.T) {
	e := New(64)

	first, err := e.Embed(context.Background(), []string{"Refund policy: thirty days."})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"Refund policy: thirty days."})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first[0], 64)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(first[0], first[0])), 1e-5)
	assert.Equal(t, "hashing-64", e.Model())
}

func TestEmbed_SimilarTextsScoreHigher(t *testing.T) {
	e := New(DefaultDimension)
	vecs, err := e.Embed(context.Background(), []string{
		"what is the refund policy",
		"Our refund policy allows returns within 30 days.",
		"The cat sat on the warm windowsill all afternoon.",
	})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
}

func TestEmbed_StopwordsOnlyIsZeroVector(t *testing.T) {
	vecs, err := New(8).Embed(context.Background(), []string{"the and of"})

	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}

func TestEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(8).Embed(ctx, []string{"x"})

	assert.ErrorIs(t, err, domain.ErrCancelled)
}
