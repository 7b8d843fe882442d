package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"ragterm/internal/domain"
)

// DefaultCacheSize is the number of query embeddings kept in memory.
const DefaultCacheSize = 512

// Cached wraps an Embedder with an LRU keyed by text and model, so a
// repeated question skips the embedding round trip.
type Cached struct {
	inner domain.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached creates a cached embedder.
func NewCached(inner domain.Embedder, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

// Model returns the wrapped model name.
func (c *Cached) Model() string { return c.inner.Model() }

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.Model()))
	return hex.EncodeToString(sum[:])
}

// Embed serves cached vectors and forwards only the misses, in one call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(t)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		if j >= len(missIdx) {
			break
		}
		out[missIdx[j]] = v
		c.cache.Add(c.key(missTexts[j]), v)
	}
	return out, nil
}

// Len returns the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }
