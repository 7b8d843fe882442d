package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragterm/internal/domain"
)

func reconstruct(chunks []domain.Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			r = r[overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

func sampleTexts() map[string]string {
	return map[string]string{
		"prose":      strings.Repeat("The refund policy lasts thirty days. Contact support for help! Is that clear? ", 40),
		"no spaces":  strings.Repeat("abcdefghij", 157),
		"unicode":    strings.Repeat("Ünïcödé тексты 日本語の文章です。 ", 60),
		"newlines":   strings.Repeat("line one\nline two\n\n", 80),
		"one word":   "hello",
		"whitespace": strings.Repeat(" ", 500),
	}
}

func TestNewWindowChunker_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWindowChunker(tt.size, tt.overlap)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, domain.ErrChunkConfig)
		})
	}
}

func TestChunk_Reconstruction(t *testing.T) {
	configs := []struct{ size, overlap int }{{200, 20}, {50, 0}, {64, 63}, {1, 0}, {1200, 200}, {7, 3}}
	for name, text := range sampleTexts() {
		for _, cfg := range configs {
			c, err := NewWindowChunker(cfg.size, cfg.overlap)
			require.NoError(t, err)

			chunks := c.Chunk(domain.Document{Path: "doc.md", Text: text})

			require.NotEmpty(t, chunks, name)
			assert.Equal(t, text, reconstruct(chunks, cfg.overlap), "%s size=%d overlap=%d", name, cfg.size, cfg.overlap)
		}
	}
}

func TestChunk_Invariants(t *testing.T) {
	c, err := NewWindowChunker(200, 20)
	require.NoError(t, err)

	for name, text := range sampleTexts() {
		chunks := c.Chunk(domain.Document{Path: "doc.md", Text: text})
		total := utf8.RuneCountInString(text)

		for i, ch := range chunks {
			assert.Equal(t, i, ch.Ordinal, name)
			assert.Equal(t, "doc.md", ch.Path)
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 200, name)
			assert.Equal(t, ch.End-ch.Start, utf8.RuneCountInString(ch.Text), name)
			assert.True(t, 0 <= ch.Start && ch.Start < ch.End && ch.End <= total, name)
			if i > 0 {
				assert.Equal(t, 20, chunks[i-1].End-ch.Start, "%s: overlap between %d and %d", name, i-1, i)
			}
		}
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, total, chunks[len(chunks)-1].End)
	}
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	c, err := NewWindowChunker(200, 20)
	require.NoError(t, err)
	text := strings.Repeat("x", 200)

	chunks := c.Chunk(domain.Document{Path: "a", Text: text})

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestChunk_EmptyTextYieldsNothing(t *testing.T) {
	c, err := NewWindowChunker(10, 2)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(domain.Document{Path: "a", Text: ""}))
}

func TestChunk_PrefersSentenceBoundary(t *testing.T) {
	// Given a sentence ending inside the back half of the window
	c, err := NewWindowChunker(40, 5)
	require.NoError(t, err)
	text := "First sentence is right here. Second one keeps going on and on."

	chunks := c.Chunk(domain.Document{Path: "a", Text: text})

	// Then the first chunk stops right after the period
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "First sentence is right here.", chunks[0].Text)
}

func TestChunk_FallsBackToWhitespace(t *testing.T) {
	c, err := NewWindowChunker(20, 0)
	require.NoError(t, err)
	text := "alpha beta gamma delta epsilon"

	chunks := c.Chunk(domain.Document{Path: "a", Text: text})

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "alpha beta gamma ", chunks[0].Text)
}

func TestChunk_Deterministic(t *testing.T) {
	c, err := NewWindowChunker(120, 30)
	require.NoError(t, err)
	doc := domain.Document{Path: "a", Text: sampleTexts()["prose"]}

	assert.Equal(t, c.Chunk(doc), c.Chunk(doc))
}
