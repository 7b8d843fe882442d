// Package hashing is an offline embedder: a bag of words hashed into a
// fixed number of buckets with sublinear term weighting. It needs no
// corpus preparation, so query and document vectors always agree.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"ragterm/internal/domain"
)

// DefaultDimension is the bucket count used when none is configured.
const DefaultDimension = 512

var tokenRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder hashes tokens into Dimension buckets.
type Embedder struct {
	dim       int
	stopwords map[string]struct{}
}

// New creates a hashing embedder.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim, stopwords: defaultStopwords()}
}

// Model identifies the embedder and its dimension.
func (e *Embedder) Model() string { return fmt.Sprintf("hashing-%d", e.dim) }

// Dimension returns the vector size.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns an L2-normalized vector per text. Texts without any
// token map to the zero vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.Cancelled("hashing.embed", err)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	tf := map[string]int{}
	for _, tok := range e.tokenize(text) {
		tf[tok]++
	}
	acc := make([]float64, e.dim)
	for tok, n := range tf {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		acc[bucket] += sign * (1 + math.Log(float64(n)))
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, e.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now", "what", "which", "who", "how", "do", "does",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
