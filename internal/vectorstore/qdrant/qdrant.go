package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"ragterm/internal/domain"
	"ragterm/internal/httpjson"
	"ragterm/internal/retry"
	"ragterm/internal/vectorstore"
)

// Payload keys stored with every point.
const (
	keyPath  = "path"
	keyIndex = "index"
	keyChunk = "chunk"
	keyStart = "start"
	keyEnd   = "end"
)

// Storage is a REST client to one Qdrant collection. Transport failures are
// retried and counted by a circuit breaker; while the breaker is open calls
// fail fast as StoreUnavailable.
type Storage struct {
	baseURL    string
	collection string
	distance   string
	http       *httpjson.Client
	breaker    *gobreaker.CircuitBreaker
	policy     retry.Policy
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	// Distance is a Qdrant distance name: Cosine, Dot, Euclid or Manhattan.
	// Euclid and Manhattan scores are converted so higher means closer.
	Distance string
	Retry    retry.Policy
}

func NewStorage(cfg Config) *Storage {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["api-key"] = cfg.APIKey
	}
	s := &Storage{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		distance:   cfg.Distance,
		http:       httpjson.New(headers),
		policy:     cfg.Retry,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "qdrant",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: isBreakerSuccess,
	})
	return s
}

// isBreakerSuccess counts only unreachable-store failures against the breaker.
// A rejected request proves the store is up.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *httpjson.StatusError
	if errors.As(err, &se) {
		return se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return false
}

func (s *Storage) collectionURL(suffix string) string {
	return s.baseURL + "/collections/" + url.PathEscape(s.collection) + suffix
}

// call runs one request with retries, through the breaker.
func (s *Storage) call(ctx context.Context, op, method, endpoint string, in, out any) error {
	_, err := retry.Do(ctx, s.policy, op, func(ctx context.Context) (struct{}, error) {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.http.Do(ctx, method, endpoint, in, out)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return struct{}{}, domain.NewError(domain.KindStoreUnavailable, "", op, "circuit open", err)
		}
		return struct{}{}, httpjson.Classify(domain.KindStoreUnavailable, op, err)
	})
	return err
}

func isNotFound(err error) bool {
	var se *httpjson.StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// Ensure creates the collection on first use and verifies the dimension of
// an existing one.
func (s *Storage) Ensure(ctx context.Context, dimension int) error {
	const op = "qdrant.Ensure"
	if dimension <= 0 {
		return domain.NewError(domain.KindStoreRejected, "", op, fmt.Sprintf("invalid dimension %d", dimension), nil)
	}
	var info collectionInfo
	err := s.call(ctx, op, http.MethodGet, s.collectionURL(""), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return domain.NewError(domain.KindStoreRejected, "", op,
				fmt.Sprintf("collection %q has dimension %d, embeddings have %d", s.collection, size, dimension), nil)
		}
		return nil
	case !isNotFound(err):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": s.distance,
		},
	}
	if err := s.call(ctx, op, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	slog.Info("created collection", slog.String("collection", s.collection), slog.Int("dimension", dimension))

	index := map[string]any{"field_name": keyPath, "field_schema": "keyword"}
	return s.call(ctx, op, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil)
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     r.ID,
			"vector": r.Vector,
			"payload": map[string]any{
				keyPath:  r.Chunk.Path,
				keyIndex: r.Chunk.Ordinal,
				keyChunk: r.Chunk.Text,
				keyStart: r.Chunk.Start,
				keyEnd:   r.Chunk.End,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.call(ctx, "qdrant.Upsert", http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

// Prune deletes the points of path whose ordinal is at least keep.
func (s *Storage) Prune(ctx context.Context, path string, keep int) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{"key": keyPath, "match": map[string]any{"value": path}},
				map[string]any{"key": keyIndex, "range": map[string]any{"gte": keep}},
			},
		},
	}
	err := s.call(ctx, "qdrant.Prune", http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

type queryResponse struct {
	Result struct {
		Points []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

// Search returns the topK nearest points. A missing collection has no points.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"query":        vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp queryResponse
	err := s.call(ctx, "qdrant.Search", http.MethodPost, s.collectionURL("/points/query"), req, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		results = append(results, domain.SearchResult{Chunk: chunkFromPayload(p.Payload), Score: s.similarity(p.Score)})
	}
	return results, nil
}

// similarity maps a Qdrant score onto higher-is-closer. Euclid and Manhattan
// report distances, so they become 1/(1+d).
func (s *Storage) similarity(score float64) float64 {
	switch s.distance {
	case "Euclid", "Manhattan":
		return 1 / (1 + score)
	}
	return score
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.call(ctx, "qdrant.Count", http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func chunkFromPayload(p map[string]any) domain.Chunk {
	var c domain.Chunk
	if v, ok := p[keyPath].(string); ok {
		c.Path = v
	}
	if v, ok := p[keyChunk].(string); ok {
		c.Text = v
	}
	if v, ok := p[keyIndex].(float64); ok {
		c.Ordinal = int(v)
	}
	if v, ok := p[keyStart].(float64); ok {
		c.Start = int(v)
	}
	if v, ok := p[keyEnd].(float64); ok {
		c.End = int(v)
	}
	return c
}

var _ vectorstore.Storage = (*Storage)(nil)
