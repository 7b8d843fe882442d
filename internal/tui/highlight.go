package tui

import (
	"regexp"
	"strings"
)

var (
	wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	// A sentence ends at terminal punctuation, a newline, or the end of text,
	// so code and lists without periods still split.
	sentenceRe = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`)
)

// highlightBestSentence renders text with the sentence sharing the most
// distinct words with query emphasised. Line structure is kept.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	start, end, ok := bestSentence(text, query)
	if !ok {
		return text
	}
	return text[:start] + highlightStyle.Render(text[start:end]) + text[end:]
}

// bestSentence returns the byte span of the sentence, without surrounding
// whitespace, that shares the most words with query. ok is false when no
// sentence shares any.
func bestSentence(text, query string) (start, end int, ok bool) {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return 0, 0, false
	}
	best, bestScore := -1, 0
	spans := sentenceRe.FindAllStringIndex(text, -1)
	for i, sp := range spans {
		if score := tokenOverlapScore(qTokens, text[sp[0]:sp[1]]); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	start, end = spans[best][0], spans[best][1]
	sent := text[start:end]
	trimmed := strings.TrimSpace(sent)
	start += strings.Index(sent, trimmed)
	return start, start + len(trimmed), true
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := wordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
