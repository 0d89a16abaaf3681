package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/lmbatch/budget"
	"github.com/sevigo/lmbatch/documentloaders"
	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/outputs"
	"github.com/sevigo/lmbatch/schema"
)

type options struct {
	planner        *budget.Planner
	logger         *slog.Logger
	concurrency    int
	temperature    float64
	maxTokens      int
	contextLimit   int
	safetyMargin   int
	overlapTokens  int
	strategy       budget.Strategy
	warnTruncation bool
	errorLimit     int
	onProgress     ProgressFunc
}

// Option configures the Processor.
type Option func(*options)

// WithConcurrency sets the worker pool size. One worker degrades to
// strictly sequential dispatch with identical semantics.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTemperature sets the sampling temperature passed to the backend.
func WithTemperature(t float64) Option {
	return func(o *options) {
		o.temperature = t
	}
}

// WithMaxTokens sets the response token cap passed to the backend. The
// budget arithmetic reserves at most the planner's fixed cap of it.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithContextLimit sets the model context window in tokens.
func WithContextLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.contextLimit = n
		}
	}
}

// WithSafetyMargin sets the tokens held back from the context window.
func WithSafetyMargin(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.safetyMargin = n
		}
	}
}

// WithOverlapTokens sets the cross-chunk overlap for the split strategy.
func WithOverlapTokens(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.overlapTokens = n
		}
	}
}

// WithStrategy selects the oversize-content strategy.
func WithStrategy(s budget.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithTruncationWarnings controls whether truncation is logged at warn
// level by the default planner.
func WithTruncationWarnings(enabled bool) Option {
	return func(o *options) {
		o.warnTruncation = enabled
	}
}

// WithErrorLimit caps how many failure messages a run stores. Zero or
// negative keeps every message.
func WithErrorLimit(n int) Option {
	return func(o *options) {
		o.errorLimit = n
	}
}

// WithPlanner replaces the planner built from the processor settings.
func WithPlanner(p *budget.Planner) Option {
	return func(o *options) {
		if p != nil {
			o.planner = p
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.onProgress = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Processor runs batches: it plans every input against the context
// budget, dispatches all chunks through one bounded worker pool, and
// aggregates results into a Summary.
type Processor struct {
	completer llms.Completer
	writer    *outputs.Writer
	planner   *budget.Planner
	logger    *slog.Logger
	options   options
}

// Request names the work of one batch run: the shared prompt and the
// discovered input sources.
type Request struct {
	Prompt     string
	PromptPath string
	Sources    []documentloaders.Source
}

// New creates a Processor around a completion backend and an output
// writer. Defaults match the stock configuration: three workers and
// the force strategy against a 16k window.
func New(completer llms.Completer, writer *outputs.Writer, opts ...Option) (*Processor, error) {
	if completer == nil {
		return nil, errors.New("batch: completer must not be nil")
	}
	if writer == nil {
		return nil, errors.New("batch: output writer must not be nil")
	}

	o := options{
		logger:         slog.Default(),
		concurrency:    3,
		temperature:    0.1,
		maxTokens:      32000,
		contextLimit:   16384,
		safetyMargin:   500,
		overlapTokens:  300,
		strategy:       budget.StrategyForce,
		warnTruncation: true,
		errorLimit:     25,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With("component", "batch")
	planner := o.planner
	if planner == nil {
		planner = budget.New(
			budget.WithLogger(o.logger),
			budget.WithTruncationWarnings(o.warnTruncation),
		)
	}

	return &Processor{
		completer: completer,
		writer:    writer,
		planner:   planner,
		logger:    logger,
		options:   o,
	}, nil
}

// Plan materializes and plans every source without dispatching
// anything. Callers use it for dry runs; Run performs the same step
// internally.
func (p *Processor) Plan(ctx context.Context, req Request) ([]Job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrNoPrompt
	}
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}

	r := &run{p: p, logger: p.logger, req: req}
	r.stats.TotalFiles = len(req.Sources)
	r.plan(ctx)
	return r.jobs, nil
}

// Run executes the batch: plan, dispatch, aggregate. Per-file failures
// are reported inside the Summary; only structural problems return an
// error. Cancelling the context stops new submissions, lets in-flight
// requests wind down, and resolves the remaining jobs as failed, so
// the summary counters always add up.
func (p *Processor) Run(ctx context.Context, req Request) (*Summary, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrNoPrompt
	}
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}

	runID := uuid.NewString()
	r := &run{
		p:      p,
		id:     runID,
		logger: p.logger.With("run_id", runID),
		req:    req,
	}
	return r.execute(ctx), nil
}

// run owns all mutable state of one batch execution. Workers never
// touch it; every job and stats mutation happens on the goroutine
// driving execute.
type run struct {
	p      *Processor
	id     string
	logger *slog.Logger
	req    Request
	jobs   []Job
	stats  Stats

	doneUnits  int
	totalUnits int
}

type task struct {
	job *Job
	idx int
}

type taskResult struct {
	job *Job
	idx int
	res Result
}

func (r *run) execute(ctx context.Context) *Summary {
	p := r.p
	r.stats.TotalFiles = len(r.req.Sources)
	r.stats.StartedAt = time.Now()

	r.logger.InfoContext(ctx, "starting batch run",
		"files", r.stats.TotalFiles,
		"concurrency", p.options.concurrency,
		"strategy", p.options.strategy,
	)

	r.plan(ctx)
	r.dispatch(ctx)

	// Anything still unresolved was never submitted or never finished,
	// which only happens when the run was cancelled.
	for i := range r.jobs {
		job := &r.jobs[i]
		if job.State == StateCompleted || job.State == StateFailed {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = errors.New("batch aborted")
		}
		r.failJob(ctx, job, err)
	}

	r.stats.FinishedAt = time.Now()
	r.logger.InfoContext(ctx, "batch run finished",
		"processed", r.stats.ProcessedFiles,
		"failed", r.stats.FailedFiles,
		"total_tokens", r.stats.TotalTokens,
		"elapsed", r.stats.Elapsed(),
	)

	return r.summary()
}

// plan materializes each source and runs the budget planner on it.
// Read and plan failures resolve the job immediately, before any
// dispatch, and never touch the other jobs.
func (r *run) plan(ctx context.Context) {
	p := r.p
	r.jobs = make([]Job, len(r.req.Sources))

	for i, src := range r.req.Sources {
		job := &r.jobs[i]
		job.Source = src
		job.State = StateIdle

		doc, err := documentloaders.ReadSource(src)
		if err != nil {
			r.failJob(ctx, job, err)
			continue
		}
		job.Document = doc

		plan, err := p.planner.Plan(ctx, budget.Inputs{
			Prompt:            r.req.Prompt,
			Body:              doc.PageContent,
			ContextLimit:      p.options.contextLimit,
			MaxResponseTokens: p.options.maxTokens,
			SafetyMargin:      p.options.safetyMargin,
			OverlapTokens:     p.options.overlapTokens,
			Strategy:          p.options.strategy,
		})
		if err != nil {
			r.failJob(ctx, job, err)
			continue
		}

		job.Chunks = plan.Chunks
		job.Results = make([]Result, len(plan.Chunks))
		job.Outcome = plan.Outcome
		job.pending = len(plan.Chunks)
		job.State = StatePlanned
		r.totalUnits += len(plan.Chunks)

		r.logger.DebugContext(ctx, "planned file",
			"file", src.Name,
			"outcome", plan.Outcome,
			"chunks", len(plan.Chunks),
		)
	}
}

// dispatch feeds every chunk of every planned job into one bounded
// worker pool and consumes the results as the single aggregator.
func (r *run) dispatch(ctx context.Context) {
	if r.totalUnits == 0 {
		return
	}
	p := r.p

	tasks := make(chan task)
	results := make(chan taskResult)

	var wg sync.WaitGroup
	for range p.options.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- taskResult{
					job: t.job,
					idx: t.idx,
					res: p.send(ctx, t.job.Chunks[t.idx]),
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i := range r.jobs {
			job := &r.jobs[i]
			if job.State != StatePlanned {
				continue
			}
			job.State = StateDispatching
			for idx := range job.Chunks {
				select {
				case tasks <- task{job: job, idx: idx}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for tr := range results {
		r.consume(ctx, tr)
	}
}

// consume folds one chunk result into its job and resolves the job
// once its last chunk has reported.
func (r *run) consume(ctx context.Context, tr taskResult) {
	job := tr.job
	job.Results[tr.idx] = tr.res
	job.pending--
	r.doneUnits++

	switch {
	case tr.res.Err == nil:
		// Backend-reported usage counts even if a sibling chunk later
		// fails the job; the tokens were consumed either way.
		r.stats.TotalTokens += tr.res.Usage.TotalTokens
	case job.Err == nil:
		job.Err = tr.res.Err
		r.logger.ErrorContext(ctx, "chunk request failed",
			"file", job.Source.Name,
			"chunk", tr.res.Chunk.Index,
			"error", tr.res.Err,
		)
	default:
		r.logger.DebugContext(ctx, "additional chunk failure on already failed file",
			"file", job.Source.Name,
			"chunk", tr.res.Chunk.Index,
			"error", tr.res.Err,
		)
	}

	r.fireEvent(Event{
		Kind:       EventChunkDone,
		File:       job.Source.Name,
		ChunkIndex: tr.res.Chunk.Index,
		ChunkCount: len(job.Chunks),
		Err:        tr.res.Err,
	})

	if job.pending == 0 {
		r.resolveJob(ctx, job)
	}
}

// resolveJob finishes a fully dispatched job: on success it writes all
// outputs in chunk order, on any failure it counts the job failed with
// the first error that arrived.
func (r *run) resolveJob(ctx context.Context, job *Job) {
	if job.Err != nil {
		r.failJob(ctx, job, job.Err)
		return
	}

	for idx := range job.Results {
		res := &job.Results[idx]
		name := outputs.Filename(r.req.PromptPath, job.Source.Name, res.Chunk.Index)
		path, err := r.p.writer.Write(name, res.Response, &outputs.Metadata{
			ProcessedAt: time.Now(),
			PromptFile:  r.req.PromptPath,
			SourceFile:  job.Source.Path,
			Model:       res.Model,
			Temperature: r.p.options.temperature,
			MaxTokens:   r.p.options.maxTokens,
			TokensUsed:  res.Usage.TotalTokens,
		})
		if err != nil {
			r.failJob(ctx, job, err)
			return
		}
		res.OutputPath = path
		job.Outputs = append(job.Outputs, path)
	}

	job.State = StateCompleted
	r.stats.ProcessedFiles++
	r.logger.InfoContext(ctx, "file processed",
		"file", job.Source.Name,
		"chunks", len(job.Chunks),
		"outputs", len(job.Outputs),
	)
	r.fireEvent(Event{
		Kind:       EventFileDone,
		File:       job.Source.Name,
		ChunkCount: len(job.Chunks),
		Outputs:    job.Outputs,
	})
}

// failJob resolves a job as failed exactly once.
func (r *run) failJob(ctx context.Context, job *Job, err error) {
	job.State = StateFailed
	job.Err = err
	r.stats.FailedFiles++
	r.stats.appendError(r.p.options.errorLimit, fmt.Sprintf("%s: %v", job.Source.Name, err))

	r.logger.WarnContext(ctx, "file failed",
		"file", job.Source.Name,
		"error", err,
	)
	r.fireEvent(Event{
		Kind:       EventFileDone,
		File:       job.Source.Name,
		ChunkCount: len(job.Chunks),
		Err:        err,
	})
}

func (r *run) fireEvent(ev Event) {
	if r.p.options.onProgress == nil {
		return
	}
	ev.DoneUnits = r.doneUnits
	ev.TotalUnits = r.totalUnits
	ev.DoneFiles = r.stats.ProcessedFiles + r.stats.FailedFiles
	ev.TotalFiles = r.stats.TotalFiles
	r.p.options.onProgress(ev)
}

func (r *run) summary() *Summary {
	files := make([]FileSummary, len(r.jobs))
	for i := range r.jobs {
		job := &r.jobs[i]
		fs := FileSummary{
			Name:    job.Source.Name,
			State:   job.State,
			Outcome: job.Outcome,
			Chunks:  len(job.Chunks),
			Outputs: job.Outputs,
		}
		for _, res := range job.Results {
			if res.Err == nil {
				fs.Tokens += res.Usage.TotalTokens
			}
		}
		if job.Err != nil {
			fs.Err = job.Err.Error()
		}
		files[i] = fs
	}

	return &Summary{
		RunID: r.id,
		Stats: r.stats,
		Files: files,
	}
}

// send performs one backend request. It never touches shared state.
func (p *Processor) send(ctx context.Context, chunk schema.Chunk) Result {
	start := time.Now()
	completion, err := p.completer.Complete(ctx, chunk.Text,
		llms.WithTemperature(p.options.temperature),
		llms.WithMaxTokens(p.options.maxTokens),
	)

	res := Result{Chunk: chunk, Duration: time.Since(start)}
	if err != nil {
		res.Err = err
		return res
	}

	res.Response = completion.Text
	res.Model = completion.Model
	res.Usage = completion.Usage
	return res
}
