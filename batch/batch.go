// Package batch dispatches planned document chunks to a completion
// backend through one bounded worker pool and aggregates the results
// into per-file outcomes and batch-wide statistics.
//
// Every chunk of every file feeds the same pool, so small files do not
// wait behind large split ones. Workers only talk to the backend; a
// single consumer loop owns all job and stats mutation, resolves each
// file once every one of its chunks has reported back, and writes
// outputs in chunk order only after the whole file succeeded. One
// failed chunk fails its file but never touches other files.
package batch

import (
	"errors"
	"time"

	"github.com/sevigo/lmbatch/budget"
	"github.com/sevigo/lmbatch/documentloaders"
	"github.com/sevigo/lmbatch/schema"
)

var (
	ErrNoPrompt  = errors.New("batch: prompt must not be empty")
	ErrNoSources = errors.New("batch: no input sources to process")
)

// State is the lifecycle position of a Job.
type State string

const (
	StateIdle        State = "idle"
	StatePlanned     State = "planned"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Result is the outcome of sending one chunk to the backend.
type Result struct {
	Chunk      schema.Chunk
	Response   string
	Model      string
	Usage      schema.Usage
	Duration   time.Duration
	Err        error
	OutputPath string
}

// Job binds one input file to the shared prompt: its materialized
// document, the planned chunk list, and after dispatch the chunk
// results. A job completes only when every chunk succeeded and every
// output was written; the first chunk failure fails the whole job.
type Job struct {
	Source   documentloaders.Source
	Document schema.Document
	Chunks   []schema.Chunk
	Results  []Result
	Outcome  budget.Outcome
	State    State
	Err      error
	Outputs  []string

	pending int
}

// EventKind tags a progress notification.
type EventKind string

const (
	// EventChunkDone fires once per chunk result, success or failure.
	EventChunkDone EventKind = "chunk_done"
	// EventFileDone fires once per job when it resolves.
	EventFileDone EventKind = "file_done"
)

// Event is one progress notification. Events are delivered from a
// single goroutine, so handlers need no locking.
type Event struct {
	Kind       EventKind
	File       string
	ChunkIndex int
	ChunkCount int
	DoneUnits  int
	TotalUnits int
	DoneFiles  int
	TotalFiles int
	Outputs    []string
	Err        error
}

// ProgressFunc receives progress events during a run.
type ProgressFunc func(ev Event)
