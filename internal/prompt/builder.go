// Package prompt assembles the model input from a question and retrieved
// context under a size limit.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ragterm/internal/domain"
)

const (
	DefaultSystem  = "You are a helpful coding assistant. Use only the provided context."
	DefaultMaxSize = 12000
	// NoContextMarker stands in for the context section when nothing was retrieved.
	NoContextMarker = "(no context found)"

	userPrefix     = "Use the context below to answer the question.\n\nContext:\n"
	userMiddle     = "\n\nQuestion: "
	blockSeparator = "\n\n"
)

// Builder renders prompts. MaxSize bounds the whole prompt (system plus
// user message) in runes; zero or less means unbounded.
type Builder struct {
	System  string
	MaxSize int
}

// New creates a builder, defaulting an empty system prompt.
func New(system string, maxSize int) *Builder {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystem
	}
	return &Builder{System: system, MaxSize: maxSize}
}

// Block renders one context block.
func Block(rank int, r domain.SearchResult) string {
	return fmt.Sprintf("[%d] %s (chunk %d)\n%s", rank, r.Chunk.Path, r.Chunk.Ordinal, r.Chunk.Text)
}

// Build includes results in rank order while the prompt fits. The first
// block that does not fit ends inclusion, so dropped results are always the
// lowest-ranked ones; blocks are never cut. With no block included the
// context section is NoContextMarker. If even that prompt is over the
// limit the question itself is too long and Build fails.
func (b *Builder) Build(query string, results []domain.SearchResult) (domain.Prompt, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Prompt{}, domain.InvalidInput("prompt.Build", "query is empty")
	}

	fixed := utf8.RuneCountInString(b.System) +
		utf8.RuneCountInString(userPrefix) +
		utf8.RuneCountInString(userMiddle) +
		utf8.RuneCountInString(query)
	if b.over(fixed + utf8.RuneCountInString(NoContextMarker)) {
		return domain.Prompt{}, domain.InvalidInput("prompt.Build",
			fmt.Sprintf("question of %d runes does not fit a prompt limit of %d", utf8.RuneCountInString(query), b.MaxSize))
	}

	blocks := make([]string, 0, len(results))
	ctxLen := 0
	for i, r := range results {
		block := Block(i+1, r)
		add := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			add += len(blockSeparator)
		}
		if b.over(fixed + ctxLen + add) {
			break
		}
		blocks = append(blocks, block)
		ctxLen += add
	}

	p := domain.Prompt{
		System:   b.System,
		Query:    query,
		Included: results[:len(blocks)],
		Dropped:  len(results) - len(blocks),
	}
	section := strings.Join(blocks, blockSeparator)
	if len(blocks) == 0 {
		section = NoContextMarker
		p.NoContext = true
	}
	p.User = userPrefix + section + userMiddle + query
	return p, nil
}

func (b *Builder) over(size int) bool {
	return b.MaxSize > 0 && size > b.MaxSize
}
