// Package embedding turns chunk texts into vectors through a provider,
// batching, pacing and validating the calls.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ragterm/internal/domain"
)

// Item is one text to embed, identified for error reporting.
type Item struct {
	ID   string
	Text string
}

// ProgressFunc is called after each completed batch. It may be called
// from several goroutines.
type ProgressFunc func(done, total int)

// BatchConfig controls how EmbedAll splits and paces work.
type BatchConfig struct {
	BatchSize   int
	Concurrency int
	// RequestsPerSecond limits provider calls. Zero disables pacing.
	RequestsPerSecond float64
}

// Batcher embeds arbitrarily many items through an Embedder.
type Batcher struct {
	embedder domain.Embedder
	cfg      BatchConfig
	limiter  *rate.Limiter
}

// NewBatcher creates a batcher. Non-positive sizes fall back to 32 items
// per batch and one batch in flight.
func NewBatcher(embedder domain.Embedder, cfg BatchConfig) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	b := &Batcher{embedder: embedder, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Concurrency
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return b
}

// Model returns the underlying provider model.
func (b *Batcher) Model() string { return b.embedder.Model() }

// EmbedAll returns one vector per item, in item order. Every vector has the
// same non-zero dimension. Any batch failure fails the whole call with an
// embedding error naming that batch's items; nothing partial is returned.
func (b *Batcher) EmbedAll(ctx context.Context, items []Item, progress ProgressFunc) ([][]float32, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(items))

	var (
		mu   sync.Mutex
		dim  int
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for start := 0; start < len(items); start += b.cfg.BatchSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+b.cfg.BatchSize, len(items))
		batchNo := start / b.cfg.BatchSize
		batch := items[start:end]
		offset := start

		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return domain.Cancelled("embed", err)
				}
			}
			texts := make([]string, len(batch))
			for i, it := range batch {
				texts[i] = it.Text
			}

			vecs, err := b.embedder.Embed(gctx, texts)
			if err != nil {
				return batchError(batchNo, batch, err)
			}
			if len(vecs) != len(batch) {
				return batchError(batchNo, batch, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(batch)))
			}

			mu.Lock()
			defer mu.Unlock()
			for i, v := range vecs {
				if len(v) == 0 {
					return batchError(batchNo, batch[i:i+1], errors.New("empty vector"))
				}
				if dim == 0 {
					dim = len(v)
				}
				if len(v) != dim {
					return batchError(batchNo, batch[i:i+1], fmt.Errorf("vector dimension %d, expected %d", len(v), dim))
				}
				out[offset+i] = v
			}
			done += len(batch)
			if progress != nil {
				progress(done, len(items))
			}
			slog.Debug("embedded batch",
				slog.Int("batch", batchNo),
				slog.Int("size", len(batch)),
				slog.Int("done", done),
				slog.Int("total", len(items)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, domain.Cancelled("embed", ctx.Err())
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Cancelled("embed", err)
	}
	return out, nil
}

func batchError(batchNo int, batch []Item, cause error) error {
	if errors.Is(cause, domain.ErrCancelled) {
		return cause
	}
	ids := make([]string, len(batch))
	for i, it := range batch {
		ids[i] = it.ID
	}
	e := &domain.Error{
		Kind:    domain.KindEmbedding,
		Reason:  domain.ReasonPermanent,
		Op:      "embed",
		Message: fmt.Sprintf("batch %d failed", batchNo),
		Ref:     ids,
		Err:     cause,
	}
	var de *domain.Error
	if errors.As(cause, &de) && de.Kind == domain.KindEmbedding && de.Reason != "" {
		e.Reason = de.Reason
	}
	return e
}
