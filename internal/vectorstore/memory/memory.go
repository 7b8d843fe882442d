package memory

import (
	"context"
	"fmt"
	"sync"

	"ragterm/internal/domain"
	"ragterm/internal/vectorstore"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]domain.Record
}

func NewStorage() *Storage {
	return &Storage{records: make(map[string]domain.Record)}
}

func (s *Storage) Ensure(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.NewError(domain.KindStoreRejected, "", "memory.Ensure", fmt.Sprintf("invalid dimension %d", dimension), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return domain.NewError(domain.KindStoreRejected, "", "memory.Ensure",
			fmt.Sprintf("collection has dimension %d, embeddings have %d", s.dimension, dimension), nil)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return domain.Cancelled("memory.Upsert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) != s.dimension {
			return domain.NewError(domain.KindStoreRejected, "", "memory.Upsert",
				fmt.Sprintf("vector dimension %d, collection has %d", len(r.Vector), s.dimension), nil)
		}
	}
	for _, r := range records {
		v := make([]float32, len(r.Vector))
		copy(v, r.Vector)
		r.Vector = v
		s.records[r.ID] = r
	}
	return nil
}

func (s *Storage) Prune(ctx context.Context, path string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Chunk.Path == path && r.Chunk.Ordinal >= keep {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Cancelled("memory.Search", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	results := make([]domain.SearchResult, 0, len(s.records))
	for _, r := range s.records {
		results = append(results, domain.SearchResult{Chunk: r.Chunk, Score: vectorstore.Cosine(r.Vector, vector)})
	}
	vectorstore.SortByScoreThenChunk(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

var _ vectorstore.Storage = (*Storage)(nil)
