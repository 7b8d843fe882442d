package domain

import (
	"context"
	"time"
	"unicode/utf8"
)

// Document represents a single text file loaded into the system.
type Document struct {
	Path    string
	Text    string
	ModTime time.Time
	Size    int64
}

// Chunk is a contiguous slice of a document used for indexing.
// Start and End are rune offsets into the document text.
type Chunk struct {
	Path    string
	Ordinal int
	Text    string
	Start   int
	End     int
}

// Record is a chunk paired with its embedding, keyed by a stable ID.
type Record struct {
	ID     string
	Vector []float32
	Chunk  Chunk
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Prompt is the final model input: a system instruction plus the
// user message carrying the context blocks and the question.
type Prompt struct {
	System    string
	User      string
	Query     string
	Included  []SearchResult
	Dropped   int
	NoContext bool
}

// Size is the prompt length in runes.
func (p Prompt) Size() int {
	return utf8.RuneCountInString(p.System) + utf8.RuneCountInString(p.User)
}

// Embedder converts texts into fixed-dimension vectors, one per input, in order.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(doc Document) []Chunk
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	// Ensure prepares the collection for vectors of dim dimensions.
	Ensure(ctx context.Context, dim int) error
	// Upsert inserts records, replacing any with the same ID.
	Upsert(ctx context.Context, records []Record) error
	// Prune removes records of path whose ordinal is >= keep.
	Prune(ctx context.Context, path string, keep int) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// Generator produces an answer for a fully built prompt.
type Generator interface {
	Model() string
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
