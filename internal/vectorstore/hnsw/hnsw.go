// Package hnsw is a local vector store backed by a coder/hnsw graph and
// persisted to a single file plus a gob metadata sidecar. Writes stay in
// memory until Flush.
package hnsw

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"ragterm/internal/domain"
	"ragterm/internal/vectorstore"
)

type entry struct {
	Key    uint64
	Chunk  domain.Chunk
	Vector []float32 // normalized, kept for compaction
}

// metadata is the gob sidecar stored at <path>.meta.
type metadata struct {
	Dimension int
	NextKey   uint64
	Records   map[string]entry
}

// Storage keeps vectors in an HNSW graph. Replaced and pruned records are
// deleted lazily: their graph nodes stay but lose their ID mapping until
// orphans outnumber live records and the graph is rebuilt.
type Storage struct {
	mu      sync.RWMutex
	path    string
	graph   *hnsw.Graph[uint64]
	dim     int
	nextKey uint64
	records map[string]entry
	byKey   map[uint64]string
	dirty   bool
}

// Open loads the store at path, or starts empty when nothing is saved
// there yet. An empty path keeps the store in memory only.
func Open(path string) (*Storage, error) {
	s := &Storage{path: path}
	s.reset()
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path + ".meta"); errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32
	g.Ml = 0.25
	return g
}

func (s *Storage) reset() {
	s.graph = newGraph()
	s.records = make(map[string]entry)
	s.byKey = make(map[uint64]string)
}

func (s *Storage) Ensure(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dimension <= 0 {
		return domain.NewError(domain.KindStoreRejected, "", "hnsw.Ensure", fmt.Sprintf("invalid dimension %d", dimension), nil)
	}
	if s.dim != 0 && s.dim != dimension {
		return domain.NewError(domain.KindStoreRejected, "", "hnsw.Ensure",
			fmt.Sprintf("index has dimension %d, embeddings have %d", s.dim, dimension), nil)
	}
	s.dim = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Vector) != s.dim {
			return domain.NewError(domain.KindStoreRejected, "", "hnsw.Upsert",
				fmt.Sprintf("vector dimension %d, index has %d", len(r.Vector), s.dim), nil)
		}
	}
	for _, r := range records {
		if old, ok := s.records[r.ID]; ok {
			delete(s.byKey, old.Key)
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		vectorstore.Normalize(vec)

		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.records[r.ID] = entry{Key: key, Chunk: r.Chunk, Vector: vec}
		s.byKey[key] = r.ID
	}
	s.dirty = true
	s.compact()
	return nil
}

func (s *Storage) Prune(ctx context.Context, path string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for id, e := range s.records {
		if e.Chunk.Path == path && e.Chunk.Ordinal >= keep {
			delete(s.byKey, e.Key)
			delete(s.records, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	s.dirty = true
	s.compact()
	return nil
}

// compact rebuilds the graph from live records once orphaned nodes
// outnumber them. Keys are reassigned in ID order. Callers hold the write
// lock.
func (s *Storage) compact() {
	orphans := s.graph.Len() - len(s.records)
	if orphans <= len(s.records) {
		return
	}
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	graph := newGraph()
	byKey := make(map[uint64]string, len(ids))
	for i, id := range ids {
		e := s.records[id]
		e.Key = uint64(i)
		graph.Add(hnsw.MakeNode(e.Key, e.Vector))
		s.records[id] = e
		byKey[e.Key] = id
	}
	slog.Debug("compacted hnsw graph", slog.Int("records", len(ids)), slog.Int("orphans", orphans))
	s.graph, s.byKey, s.nextKey = graph, byKey, uint64(len(ids))
}

// Flush writes pending changes to disk. It is a no-op for in-memory stores
// and when nothing changed since the last flush.
func (s *Storage) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.save(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, domain.NewError(domain.KindStoreRejected, "", "hnsw.Search",
			fmt.Sprintf("query dimension %d, index has %d", len(vector), s.dim), nil)
	}
	q := make([]float32, len(vector))
	copy(q, vector)
	vectorstore.Normalize(q)

	// Orphaned nodes can take result slots; ask for enough to cover them.
	orphans := s.graph.Len() - len(s.records)
	nodes := s.graph.Search(q, topK+orphans)

	results := make([]domain.SearchResult, 0, topK)
	for _, n := range nodes {
		id, ok := s.byKey[n.Key]
		if !ok {
			continue
		}
		dist := s.graph.Distance(q, n.Value)
		results = append(results, domain.SearchResult{Chunk: s.records[id].Chunk, Score: float64(1 - dist)})
	}
	vectorstore.SortByScoreThenChunk(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// save writes graph and metadata atomically (temp file + rename).
// Callers hold the write lock.
func (s *Storage) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	if s.graph.Len() > 0 {
		if err := writeAtomic(s.path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
	} else if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove empty graph: %w", err)
	}
	meta := metadata{Dimension: s.dim, NextKey: s.nextKey, Records: s.records}
	if err := writeAtomic(s.path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func (s *Storage) load() error {
	mf, err := os.Open(s.path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer func() {
		if err := mf.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()
	var meta metadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	s.dim = meta.Dimension
	s.nextKey = meta.NextKey
	if meta.Records != nil {
		s.records = meta.Records
	}
	for id, e := range s.records {
		s.byKey[e.Key] = id
	}
	if len(s.records) == 0 {
		return nil
	}

	gf, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer gf.Close()
	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

var (
	_ vectorstore.Storage = (*Storage)(nil)
	_ vectorstore.Flusher = (*Storage)(nil)
)
