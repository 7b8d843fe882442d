package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_KeepsTopSentencesInOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Refunds are issued within thirty days. The weather was nice. Refunds need a receipt for refunds."

	got, err := s.Summarize(text, 2)

	require.NoError(t, err)
	assert.Equal(t, "Refunds are issued within thirty days. Refunds need a receipt for refunds.", got)
}

func TestSummarize_NoSentencePunctuation(t *testing.T) {
	got, err := NewFrequencySummarizer().Summarize("  just some words  ", 3)

	require.NoError(t, err)
	assert.Equal(t, "just some words", got)
}

func TestTopTerms(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "qdrant stores vectors. qdrant answers queries. vectors and the queries. embeddings"

	assert.Equal(t, []string{"qdrant", "queries", "vectors"}, s.TopTerms(text, 3))
	assert.Len(t, s.TopTerms(text, 100), 6)
}
