package service

import (
	"errors"
	"time"

	"ragterm/internal/domain"
)

// ErrAlreadyRunning rejects a start while a job of the same kind is running.
var ErrAlreadyRunning = errors.New("job already running")

// JobKind names one of the two background jobs.
type JobKind int

const (
	KindIndex JobKind = iota
	KindQuery
	numKinds
)

func (k JobKind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindQuery:
		return "query"
	}
	return "unknown"
}

// Phase is the lifecycle position of a job.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the phase ends a job.
func (p Phase) Terminal() bool { return p == PhaseSucceeded || p == PhaseFailed }

// Stage is the pipeline step a job is executing, or failed in.
type Stage string

const (
	StageScan        Stage = "scan"
	StageChunk       Stage = "chunk"
	StageEmbed       Stage = "embed"
	StageUpsert      Stage = "upsert"
	StageRetrieve    Stage = "retrieve"
	StageBuildPrompt Stage = "build_prompt"
	StageGenerate    Stage = "generate"
)

// Progress counts work inside the current stage.
type Progress struct {
	Done  int
	Total int
	// Files and Warnings are filled in by the scan stage.
	Files    int
	Warnings int
}

// IndexReport summarises a finished index job.
type IndexReport struct {
	Documents int
	Chunks    int
	Records   int
	Warnings  []string
	Digest    string
	Terms     []string
	Elapsed   time.Duration
}

// Answer is the result of a query job.
type Answer struct {
	Text      string
	Hits      []domain.SearchResult
	Prompt    domain.Prompt
	NoContext bool
	// Note explains a degraded answer, e.g. one given without context.
	Note    string
	Elapsed time.Duration
}

// JobState is an immutable snapshot of one job. A new value is published
// on every transition and progress update; published values are never
// modified.
type JobState struct {
	ID         uint64
	Kind       JobKind
	Phase      Phase
	Stage      Stage
	Progress   Progress
	Index      *IndexReport
	Answer     *Answer
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Running reports whether the job is in flight.
func (s JobState) Running() bool { return s.Phase == PhaseRunning }

// Cancelled reports whether the job failed because it was cancelled.
func (s JobState) Cancelled() bool {
	return s.Phase == PhaseFailed && errors.Is(s.Err, domain.ErrCancelled)
}
