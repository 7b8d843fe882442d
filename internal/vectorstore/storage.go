// Package vectorstore holds what the storage backends share: the record
// identity scheme and vector math.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"ragterm/internal/domain"
)

// Storage persists vectors and supports similarity search.
type Storage = domain.VectorStore

// Flusher is implemented by stores that buffer writes. Flush persists
// everything written so far.
type Flusher interface {
	Flush(ctx context.Context) error
}

// recordNamespace seeds record IDs. Changing it orphans every stored record.
var recordNamespace = uuid.MustParse("6f1c2a4e-9b3d-5e7f-8a10-2c4d6e8f0a1b")

// RecordID derives the stable identity of a chunk from its path and
// ordinal. Re-indexing unchanged content therefore overwrites records
// instead of duplicating them. The result is a UUID, which Qdrant accepts
// as a point ID.
func RecordID(path string, ordinal int) string {
	return uuid.NewSHA1(recordNamespace, []byte(path+"#"+strconv.Itoa(ordinal))).String()
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortByScore orders results by descending score. Equal scores keep the
// order the store returned them in.
func SortByScore(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// SortByScoreThenChunk orders results by descending score and breaks ties
// by path, then ordinal. Backends that collect results from a map use it so
// their output does not depend on iteration order.
func SortByScoreThenChunk(results []domain.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Path != b.Chunk.Path {
			return a.Chunk.Path < b.Chunk.Path
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})
}
