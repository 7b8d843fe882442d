// Package retriever finds the stored chunks most similar to a question.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"ragterm/internal/domain"
	"ragterm/internal/vectorstore"
)

// Retriever embeds a query and asks the vector store for its nearest chunks.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
}

// New creates a retriever.
func New(embedder domain.Embedder, store domain.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns at most k results ordered by non-increasing score.
// Fewer than k matches, including none, is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	const op = "retrieve"
	if k <= 0 {
		return nil, domain.InvalidInput(op, fmt.Sprintf("k must be positive, got %d", k))
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.InvalidInput(op, "query is empty")
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, domain.NewError(domain.KindEmbedding, domain.ReasonPermanent, op, "no query embedding returned", nil)
	}

	results, err := r.store.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}
	vectorstore.SortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
