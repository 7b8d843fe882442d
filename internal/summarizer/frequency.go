// Package summarizer builds a short extractive digest of an indexed corpus.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	tokenRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)
)

// FrequencySummarizer ranks sentences by normalized term frequency,
// ignoring stopwords.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of the highest-scoring sentences in
// their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	freq := s.frequencies(text)

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := tokens(sent)
		var sum float64
		for _, tok := range toks {
			sum += freq[tok]
		}
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if maxSentences > len(ranked) {
		maxSentences = len(ranked)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = ranked[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

// TopTerms returns the n most frequent non-stopword terms, ties broken
// alphabetically.
func (s *FrequencySummarizer) TopTerms(text string, n int) []string {
	counts := map[string]int{}
	for _, tok := range tokens(text) {
		if _, stop := s.stopwords[tok]; stop || len([]rune(tok)) < 3 {
			continue
		}
		counts[tok]++
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if n < len(terms) {
		terms = terms[:n]
	}
	return terms
}

// frequencies maps each non-stopword term to its count divided by the max count.
func (s *FrequencySummarizer) frequencies(text string) map[string]float64 {
	freq := map[string]float64{}
	var top float64
	for _, tok := range tokens(text) {
		if _, stop := s.stopwords[tok]; stop {
			continue
		}
		freq[tok]++
		if freq[tok] > top {
			top = freq[tok]
		}
	}
	if top > 0 {
		for k, v := range freq {
			freq[k] = v / top
		}
	}
	return freq
}

func splitSentences(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
