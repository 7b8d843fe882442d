package chunker

import (
	"fmt"
	"unicode"

	"ragterm/internal/domain"
)

// WindowChunker splits text into windows of at most Size runes, each
// overlapping the previous one by exactly Overlap runes. Boundaries are
// moved back to the nearest sentence end, then whitespace, when one lies
// in the back half of the window.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the parameters. overlap must be smaller than
// size, otherwise the window could never advance.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	switch {
	case size <= 0:
		return nil, domain.ChunkConfigError(fmt.Sprintf("chunk size must be positive, got %d", size))
	case overlap < 0:
		return nil, domain.ChunkConfigError(fmt.Sprintf("chunk overlap must not be negative, got %d", overlap))
	case overlap >= size:
		return nil, domain.ChunkConfigError(fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", overlap, size))
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length in runes.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Chunk splits the document. Empty text yields no chunks.
func (c *WindowChunker) Chunk(doc domain.Document) []domain.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []domain.Chunk
	emit := func(start, end int) {
		chunks = append(chunks, domain.Chunk{
			Path:    doc.Path,
			Ordinal: len(chunks),
			Text:    string(runes[start:end]),
			Start:   start,
			End:     end,
		})
	}

	start := 0
	for {
		end := start + c.size
		if end >= n {
			emit(start, n)
			return chunks
		}
		b := c.boundary(runes, start, end)
		emit(start, b)
		start = b - c.overlap
	}
}

// boundary picks the cut position in (lo, end]. lo keeps the cut past
// start+overlap so the next window always advances.
func (c *WindowChunker) boundary(runes []rune, start, end int) int {
	lo := start + c.size/2
	if floor := start + c.overlap + 1; floor > lo {
		lo = floor
	}
	for b := end; b >= lo; b-- {
		if isSentenceEnd(runes, b) {
			return b
		}
	}
	for b := end; b >= lo; b-- {
		if unicode.IsSpace(runes[b-1]) {
			return b
		}
	}
	return end
}

// isSentenceEnd reports whether a sentence finishes right before position b.
func isSentenceEnd(runes []rune, b int) bool {
	r := runes[b-1]
	if r == '\n' {
		return true
	}
	if r != '.' && r != '!' && r != '?' {
		return false
	}
	return b == len(runes) || unicode.IsSpace(runes[b])
}
