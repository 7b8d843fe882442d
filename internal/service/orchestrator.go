// Package service runs the index and query pipelines as background jobs and
// publishes their state as immutable snapshots.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ragterm/internal/domain"
	"ragterm/internal/embedding"
	"ragterm/internal/scanner"
	"ragterm/internal/vectorstore"
)

// Source streams the documents to index.
type Source interface {
	Scan(ctx context.Context) <-chan scanner.Result
}

// BatchEmbedder embeds every chunk of a corpus.
type BatchEmbedder interface {
	Model() string
	EmbedAll(ctx context.Context, items []embedding.Item, progress embedding.ProgressFunc) ([][]float32, error)
}

// Retriever finds the chunks closest to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// PromptBuilder renders the model input.
type PromptBuilder interface {
	Build(query string, results []domain.SearchResult) (domain.Prompt, error)
}

// Digester summarises the indexed corpus for the index report.
type Digester interface {
	domain.Summarizer
	TopTerms(text string, n int) []string
}

// Deps are the pipeline components. Digest may be nil.
type Deps struct {
	Source    Source
	Chunker   domain.Chunker
	Embedder  BatchEmbedder
	Store     domain.VectorStore
	Retriever Retriever
	Prompt    PromptBuilder
	Generator domain.Generator
	Digest    Digester
}

// Options tune job behaviour.
type Options struct {
	TopK            int
	UpsertBatch     int
	DigestSentences int
	DigestTerms     int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.UpsertBatch <= 0 {
		o.UpsertBatch = 64
	}
	if o.DigestSentences <= 0 {
		o.DigestSentences = 3
	}
	if o.DigestTerms <= 0 {
		o.DigestTerms = 8
	}
	return o
}

type run struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
	// final is set before done is closed.
	final JobState
}

// Orchestrator owns the job state of both kinds. Starting and cancelling
// never block on pipeline work; Snapshot is a lock-free read.
type Orchestrator struct {
	deps Deps
	opts Options

	states [numKinds]atomic.Pointer[JobState]
	nextID atomic.Uint64

	// mu serialises starts, finishes and cancels.
	mu   sync.Mutex
	runs [numKinds]*run
}

// New creates an orchestrator with both kinds Idle.
func New(deps Deps, opts Options) *Orchestrator {
	o := &Orchestrator{deps: deps, opts: opts.withDefaults()}
	for k := range o.states {
		o.states[k].Store(&JobState{Kind: JobKind(k), Phase: PhaseIdle})
	}
	return o
}

// Snapshot returns the latest published state of kind.
func (o *Orchestrator) Snapshot(kind JobKind) JobState {
	return *o.states[kind].Load()
}

// StartIndex launches an index job and returns its ID.
func (o *Orchestrator) StartIndex(ctx context.Context) (uint64, error) {
	return o.start(ctx, KindIndex, o.runIndex)
}

// StartQuery launches a query job for text and returns its ID.
func (o *Orchestrator) StartQuery(ctx context.Context, text string) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, domain.InvalidInput("service.StartQuery", "question is empty")
	}
	return o.start(ctx, KindQuery, func(ctx context.Context, j *job) error {
		return o.runQuery(ctx, j, text)
	})
}

// Cancel asks the running job of kind to stop. It reports whether a job
// was running; the job itself reaches Failed at its next checkpoint.
func (o *Orchestrator) Cancel(kind JobKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[kind]
	if r == nil {
		return false
	}
	slog.Info("job cancel requested", slog.String("kind", kind.String()), slog.Uint64("id", r.id))
	r.cancel()
	return true
}

// Wait blocks until the current job of kind is terminal and returns its
// final state. Without a running job it returns the latest snapshot.
func (o *Orchestrator) Wait(ctx context.Context, kind JobKind) (JobState, error) {
	o.mu.Lock()
	r := o.runs[kind]
	o.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
			return r.final, nil
		case <-ctx.Done():
			return o.Snapshot(kind), ctx.Err()
		}
	}
	return o.Snapshot(kind), nil
}

func (o *Orchestrator) start(parent context.Context, kind JobKind, fn func(context.Context, *job) error) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[kind] != nil {
		return 0, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	r := &run{id: o.nextID.Add(1), cancel: cancel, done: make(chan struct{})}
	o.runs[kind] = r

	j := &job{o: o, state: JobState{ID: r.id, Kind: kind, Phase: PhaseRunning, StartedAt: time.Now()}}
	o.states[kind].Store(j.snapshot())
	slog.Info("job started", slog.String("kind", kind.String()), slog.Uint64("id", r.id))

	go o.execute(ctx, r, j, fn)
	return r.id, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, j *job, fn func(context.Context, *job) error) {
	defer close(r.done)
	defer r.cancel()

	err := fn(ctx, j)
	if err != nil && ctx.Err() != nil && !errors.Is(err, domain.ErrCancelled) {
		// A stage that ignored ctx still failed because of it.
		err = domain.Cancelled(j.state.Kind.String(), err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	j.finish(err)
	r.final = *j.snapshot()
	o.runs[j.state.Kind] = nil
}

// job is the mutable working copy of a running job's state. Only the job
// goroutine and callbacks it triggers touch it.
type job struct {
	o     *Orchestrator
	mu    sync.Mutex
	state JobState
}

func (j *job) snapshot() *JobState {
	s := j.state
	return &s
}

func (j *job) update(fn func(*JobState)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.state)
	j.o.states[j.state.Kind].Store(j.snapshot())
}

func (j *job) enter(stage Stage, total int) {
	slog.Debug("job stage",
		slog.String("kind", j.state.Kind.String()),
		slog.Uint64("id", j.state.ID),
		slog.String("stage", string(stage)),
		slog.Int("total", total))
	j.update(func(s *JobState) {
		s.Stage = stage
		s.Progress.Done = 0
		s.Progress.Total = total
	})
}

func (j *job) advance(done int) {
	j.update(func(s *JobState) { s.Progress.Done = done })
}

func (j *job) finish(err error) {
	j.update(func(s *JobState) {
		s.FinishedAt = time.Now()
		if err != nil {
			s.Phase = PhaseFailed
			s.Err = err
			return
		}
		s.Phase = PhaseSucceeded
	})
	attrs := []any{
		slog.String("kind", j.state.Kind.String()),
		slog.Uint64("id", j.state.ID),
		slog.String("stage", string(j.state.Stage)),
		slog.Duration("elapsed", j.state.FinishedAt.Sub(j.state.StartedAt)),
	}
	if err != nil {
		slog.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	slog.Info("job succeeded", attrs...)
}

// checkpoint turns a done context into the cancellation error of op.
func checkpoint(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return domain.Cancelled(op, err)
	}
	return nil
}

// runIndex stages every document and upserts it. Buffering stores are
// flushed once at the end, whether the job succeeds, fails or is cancelled.
func (o *Orchestrator) runIndex(ctx context.Context, j *job) (err error) {
	started := time.Now()
	d := o.deps
	if f, ok := d.Store.(vectorstore.Flusher); ok {
		defer func() {
			if ferr := f.Flush(context.WithoutCancel(ctx)); ferr != nil {
				slog.Error("failed to flush vector store", slog.String("error", ferr.Error()))
				if err == nil {
					err = ferr
				}
			}
		}()
	}

	j.enter(StageScan, 0)
	docs, warnings, err := scanner.Collect(ctx, d.Source.Scan(ctx))
	if err != nil {
		return err
	}
	report := &IndexReport{Documents: len(docs)}
	for _, w := range warnings {
		slog.Warn("skipped file", slog.String("path", w.Path), slog.String("reason", w.Reason))
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", w.Path, w.Reason))
	}
	j.update(func(s *JobState) {
		s.Progress.Files = len(docs)
		s.Progress.Warnings = len(warnings)
	})

	if err := checkpoint(ctx, "index"); err != nil {
		return err
	}
	j.enter(StageChunk, len(docs))
	perDoc := make([][]domain.Chunk, len(docs))
	var items []embedding.Item
	for i, doc := range docs {
		perDoc[i] = d.Chunker.Chunk(doc)
		for _, c := range perDoc[i] {
			items = append(items, embedding.Item{ID: vectorstore.RecordID(c.Path, c.Ordinal), Text: c.Text})
		}
		j.advance(i + 1)
	}
	report.Chunks = len(items)

	if err := checkpoint(ctx, "index"); err != nil {
		return err
	}
	j.enter(StageEmbed, len(items))
	vecs, err := d.Embedder.EmbedAll(ctx, items, func(done, _ int) { j.advance(done) })
	if err != nil {
		return err
	}

	if err := checkpoint(ctx, "index"); err != nil {
		return err
	}
	j.enter(StageUpsert, len(items))
	if len(vecs) > 0 {
		if err := d.Store.Ensure(ctx, len(vecs[0])); err != nil {
			return err
		}
	}
	next := 0
	for i, doc := range docs {
		if err := checkpoint(ctx, "upsert"); err != nil {
			return err
		}
		chunks := perDoc[i]
		if err := d.Store.Prune(ctx, doc.Path, len(chunks)); err != nil {
			return err
		}
		for start := 0; start < len(chunks); start += o.opts.UpsertBatch {
			if err := checkpoint(ctx, "upsert"); err != nil {
				return err
			}
			end := min(start+o.opts.UpsertBatch, len(chunks))
			records := make([]domain.Record, 0, end-start)
			for _, c := range chunks[start:end] {
				records = append(records, domain.Record{ID: items[next].ID, Vector: vecs[next], Chunk: c})
				next++
			}
			if err := d.Store.Upsert(ctx, records); err != nil {
				return err
			}
			report.Records += len(records)
			j.advance(report.Records)
		}
	}

	if err := checkpoint(ctx, "index"); err != nil {
		return err
	}
	if d.Digest != nil && len(docs) > 0 {
		var corpus strings.Builder
		for _, doc := range docs {
			corpus.WriteString(doc.Text)
			corpus.WriteString("\n")
		}
		summary, err := d.Digest.Summarize(corpus.String(), o.opts.DigestSentences)
		if err != nil {
			slog.Warn("corpus digest failed", slog.String("error", err.Error()))
		}
		report.Digest = summary
		report.Terms = d.Digest.TopTerms(corpus.String(), o.opts.DigestTerms)
	}

	report.Elapsed = time.Since(started)
	j.update(func(s *JobState) { s.Index = report })
	slog.Info("index complete",
		slog.Int("documents", report.Documents),
		slog.Int("chunks", report.Chunks),
		slog.Int("records", report.Records),
		slog.Int("warnings", len(report.Warnings)),
		slog.String("model", d.Embedder.Model()))
	return nil
}

func (o *Orchestrator) runQuery(ctx context.Context, j *job, text string) error {
	started := time.Now()
	d := o.deps

	j.enter(StageRetrieve, o.opts.TopK)
	hits, err := d.Retriever.Retrieve(ctx, text, o.opts.TopK)
	if err != nil {
		return err
	}
	j.advance(len(hits))

	if err := checkpoint(ctx, "query"); err != nil {
		return err
	}
	j.enter(StageBuildPrompt, len(hits))
	p, err := d.Prompt.Build(text, hits)
	if err != nil {
		return err
	}
	j.advance(len(p.Included))

	if err := checkpoint(ctx, "query"); err != nil {
		return err
	}
	j.enter(StageGenerate, 1)
	answer, err := d.Generator.Generate(ctx, p)
	if err != nil {
		return err
	}
	j.advance(1)

	a := &Answer{
		Text:      answer,
		Hits:      p.Included,
		Prompt:    p,
		NoContext: p.NoContext,
		Elapsed:   time.Since(started),
	}
	switch {
	case len(hits) == 0:
		a.Note = "no indexed content matched; the answer is not grounded in your files"
	case p.NoContext:
		a.Note = fmt.Sprintf("none of the %d matches fit the prompt limit", len(hits))
	case p.Dropped > 0:
		a.Note = fmt.Sprintf("%d lower-ranked matches did not fit the prompt limit", p.Dropped)
	}
	j.update(func(s *JobState) { s.Answer = a })
	slog.Info("query answered",
		slog.Int("hits", len(hits)),
		slog.Int("included", len(p.Included)),
		slog.Int("prompt_runes", p.Size()),
		slog.String("model", d.Generator.Model()))
	return nil
}
