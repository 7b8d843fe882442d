package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

func hits(n, textLen int) []domain.SearchResult {
	out := make([]domain.SearchResult, n)
	for i := range out {
		out[i] = domain.SearchResult{
			Chunk: domain.Chunk{Path: fmt.Sprintf("doc%d.md", i), Ordinal: i, Text: strings.Repeat("w", textLen)},
			Score: 1 - float64(i)/10,
		}
	}
	return out
}

func TestBuild_IncludesEverythingWhenUnbounded(t *testing.T) {
	b := New("", 0)

	p, err := b.Build("What is the refund policy?", hits(2, 5))

	require.NoError(t, err)
	assert.Equal(t, DefaultSystem, p.System)
	assert.Len(t, p.Included, 2)
	assert.Zero(t, p.Dropped)
	assert.False(t, p.NoContext)
	assert.Equal(t,
		"Use the context below to answer the question.\n\nContext:\n"+
			"[1] doc0.md (chunk 0)\nwwwww\n\n[2] doc1.md (chunk 1)\nwwwww"+
			"\n\nQuestion: What is the refund policy?",
		p.User)
}

func TestBuild_NeverExceedsMaxAndDropsLowestRanked(t *testing.T) {
	for _, limit := range []int{150, 200, 260, 400, 1000} {
		b := New("sys", limit)
		in := hits(6, 40)

		p, err := b.Build("question", in)

		require.NoError(t, err, "limit=%d", limit)
		assert.LessOrEqual(t, p.Size(), limit, "limit=%d", limit)
		assert.Equal(t, len(in), len(p.Included)+p.Dropped)
		assert.Equal(t, in[:len(p.Included)], p.Included, "included must be a rank prefix")
	}
}

func TestBuild_StopsAtFirstBlockThatDoesNotFit(t *testing.T) {
	// Given a large second block and a tiny third one
	in := hits(3, 10)
	in[1].Chunk.Text = strings.Repeat("x", 500)
	b := New("sys", 200)

	p, err := b.Build("q", in)

	// Then the small third block is not used to fill the gap
	require.NoError(t, err)
	assert.Len(t, p.Included, 1)
	assert.Equal(t, 2, p.Dropped)
}

func TestBuild_NoContextMarker(t *testing.T) {
	p, err := New("sys", 0).Build("anything?", nil)

	require.NoError(t, err)
	assert.True(t, p.NoContext)
	assert.Contains(t, p.User, NoContextMarker)
	assert.True(t, strings.HasSuffix(p.User, "Question: anything?"))
}

func TestBuild_AllBlocksTooLargeFallsBackToMarker(t *testing.T) {
	p, err := New("sys", 150).Build("q", hits(2, 1000))

	require.NoError(t, err)
	assert.True(t, p.NoContext)
	assert.Equal(t, 2, p.Dropped)
	assert.LessOrEqual(t, p.Size(), 150)
}

func TestBuild_QuestionTooLongFails(t *testing.T) {
	_, err := New("sys", 50).Build(strings.Repeat("why ", 40), hits(1, 1))

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuild_EmptyQueryFails(t *testing.T) {
	_, err := New("", 0).Build("  ", nil)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuild_CountsRunesNotBytes(t *testing.T) {
	in := []domain.SearchResult{{Chunk: domain.Chunk{Path: "ü.md", Text: strings.Repeat("ü", 20)}}}
	b := New("sys", 0)
	unbounded, err := b.Build("ß?", in)
	require.NoError(t, err)

	b.MaxSize = unbounded.Size()
	p, err := b.Build("ß?", in)

	require.NoError(t, err)
	assert.Len(t, p.Included, 1)
	assert.Equal(t, b.MaxSize, p.Size())
}
