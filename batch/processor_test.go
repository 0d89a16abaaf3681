package batch_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/lmbatch/batch"
	"github.com/sevigo/lmbatch/budget"
	"github.com/sevigo/lmbatch/documentloaders"
	"github.com/sevigo/lmbatch/internal/testutil"
	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/llms/fake"
	"github.com/sevigo/lmbatch/outputs"
	"github.com/sevigo/lmbatch/textsplitter"
	"github.com/sevigo/lmbatch/tokens"
)

const testPrompt = "Summarize:"

func writeSource(t *testing.T, dir, name, content string) documentloaders.Source {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return documentloaders.Source{Path: path, Name: name}
}

func newWriter(t *testing.T, dir string, opts ...outputs.Option) *outputs.Writer {
	t.Helper()

	logger, _ := testutil.NewTestLogger(t)
	return outputs.NewWriter(dir, append([]outputs.Option{outputs.WithLogger(logger)}, opts...)...)
}

func newProcessor(t *testing.T, completer llms.Completer, writer *outputs.Writer, opts ...batch.Option) *batch.Processor {
	t.Helper()

	logger, _ := testutil.NewTestLogger(t)
	base := []batch.Option{
		batch.WithLogger(logger),
		batch.WithContextLimit(1000),
		batch.WithMaxTokens(100),
		batch.WithSafetyMargin(0),
	}

	p, err := batch.New(completer, writer, append(base, opts...)...)
	require.NoError(t, err)

	return p
}

func newRequest(sources ...documentloaders.Source) batch.Request {
	return batch.Request{
		Prompt:     testPrompt,
		PromptPath: "summarize.txt",
		Sources:    sources,
	}
}

func outputNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func fileByName(t *testing.T, sum *batch.Summary, name string) batch.FileSummary {
	t.Helper()

	for _, fs := range sum.Files {
		if fs.Name == name {
			return fs
		}
	}
	t.Fatalf("no file summary for %q", name)
	return batch.FileSummary{}
}

func TestNew(t *testing.T) {
	writer := newWriter(t, t.TempDir())

	_, err := batch.New(nil, writer)
	require.Error(t, err, "nil completer must be rejected")

	_, err = batch.New(fake.NewFakeLLM(nil), nil)
	require.Error(t, err, "nil writer must be rejected")
}

func TestProcessorRun(t *testing.T) {
	t.Run("single file end to end", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		body := "alpha beta gamma delta."
		src := writeSource(t, inDir, "notes.txt", body)

		llm := fake.NewFakeLLM([]string{"a concise summary"})
		p := newProcessor(t, llm, newWriter(t, outDir))

		sum, err := p.Run(context.Background(), newRequest(src))
		require.NoError(t, err)

		assert.NotEmpty(t, sum.RunID)
		assert.Equal(t, 1, sum.TotalFiles)
		assert.Equal(t, 1, sum.ProcessedFiles)
		assert.Equal(t, 0, sum.FailedFiles)
		assert.Empty(t, sum.Errors)

		fs := fileByName(t, sum, "notes.txt")
		assert.Equal(t, batch.StateCompleted, fs.State)
		assert.Equal(t, budget.OutcomeFits, fs.Outcome)
		assert.Equal(t, 1, fs.Chunks)
		require.Len(t, fs.Outputs, 1)
		assert.Equal(t, "summarize.notes.txt", filepath.Base(fs.Outputs[0]))

		content, readErr := os.ReadFile(fs.Outputs[0])
		require.NoError(t, readErr)
		assert.Equal(t, "a concise summary", string(content))

		payload := testPrompt + textsplitter.DefaultSeparator + body
		wantTokens := tokens.Estimate(payload) + tokens.Estimate("a concise summary")
		assert.Equal(t, wantTokens, sum.TotalTokens, "token total comes from backend usage")
	})

	t.Run("one failing file leaves the rest untouched", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		bodies := map[string]string{
			"doc1.txt": "first document body.",
			"doc2.txt": "second document body.",
			"doc3.txt": "third document with POISON inside.",
			"doc4.txt": "fourth document body.",
			"doc5.txt": "fifth document body.",
		}
		var sources []documentloaders.Source
		for _, name := range []string{"doc1.txt", "doc2.txt", "doc3.txt", "doc4.txt", "doc5.txt"} {
			sources = append(sources, writeSource(t, inDir, name, bodies[name]))
		}

		llm := fake.NewFakeLLM([]string{"r1"})
		llm.FailWhen(func(prompt string) error {
			if strings.Contains(prompt, "POISON") {
				return &llms.StatusError{StatusCode: 503, Message: "service unavailable"}
			}
			return nil
		})
		p := newProcessor(t, llm, newWriter(t, outDir), batch.WithConcurrency(3))

		sum, err := p.Run(context.Background(), newRequest(sources...))
		require.NoError(t, err)

		assert.Equal(t, 4, sum.ProcessedFiles)
		assert.Equal(t, 1, sum.FailedFiles)
		assert.Equal(t, sum.TotalFiles, sum.ProcessedFiles+sum.FailedFiles)
		require.Len(t, sum.Errors, 1)
		assert.Contains(t, sum.Errors[0], "doc3.txt")
		assert.Contains(t, sum.Errors[0], "503")

		assert.Equal(t, batch.StateFailed, fileByName(t, sum, "doc3.txt").State)
		assert.Equal(t, 5, llm.GetCallCount(), "every file is dispatched despite the failure")

		written := outputNames(t, outDir)
		assert.ElementsMatch(t, []string{
			"summarize.doc1.txt",
			"summarize.doc2.txt",
			"summarize.doc4.txt",
			"summarize.doc5.txt",
		}, written)

		var wantTokens int
		for name, body := range bodies {
			if name == "doc3.txt" {
				continue
			}
			wantTokens += tokens.Estimate(testPrompt+textsplitter.DefaultSeparator+body) + tokens.Estimate("r1")
		}
		assert.Equal(t, wantTokens, sum.TotalTokens)
	})

	t.Run("one failed chunk fails its whole file", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		// Two chunks at a 100-char window: the split backs off to the
		// space at offset 99, so POISON lands entirely in chunk 2.
		bigBody := strings.Repeat("word ", 20) + "POISON tail here"
		big := writeSource(t, inDir, "big.txt", bigBody)
		small := writeSource(t, inDir, "small.txt", "fine little file.")

		llm := fake.NewFakeLLM([]string{"ok"})
		llm.FailWhen(func(prompt string) error {
			if strings.Contains(prompt, "POISON") {
				return &llms.StatusError{StatusCode: 503, Message: "service unavailable"}
			}
			return nil
		})
		p := newProcessor(t, llm, newWriter(t, outDir),
			batch.WithContextLimit(50),
			batch.WithMaxTokens(20),
			batch.WithOverlapTokens(0),
			batch.WithStrategy(budget.StrategySplit),
			batch.WithConcurrency(1),
		)

		sum, err := p.Run(context.Background(), newRequest(big, small))
		require.NoError(t, err)

		assert.Equal(t, 1, sum.ProcessedFiles)
		assert.Equal(t, 1, sum.FailedFiles)
		assert.Equal(t, 3, llm.GetCallCount(), "both chunks dispatch before the job resolves")

		bigSummary := fileByName(t, sum, "big.txt")
		assert.Equal(t, batch.StateFailed, bigSummary.State)
		assert.Equal(t, 2, bigSummary.Chunks)
		assert.Empty(t, bigSummary.Outputs, "failed files write nothing, even for succeeded chunks")

		assert.Equal(t, []string{"summarize.small.txt"}, outputNames(t, outDir))

		// Usage from the successful chunk of the failed file still counts.
		var wantTokens int
		for _, prompt := range llm.Prompts() {
			if strings.Contains(prompt, "POISON") {
				continue
			}
			wantTokens += tokens.Estimate(prompt) + tokens.Estimate("ok")
		}
		assert.Equal(t, wantTokens, sum.TotalTokens)
		assert.Equal(t, wantTokens-fileByName(t, sum, "small.txt").Tokens, bigSummary.Tokens)
	})

	t.Run("overflow with fail strategy never dispatches", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		src := writeSource(t, inDir, "huge.txt", strings.Repeat("word ", 40))

		llm := fake.NewFakeLLM([]string{"unused"})
		p := newProcessor(t, llm, newWriter(t, outDir),
			batch.WithContextLimit(50),
			batch.WithMaxTokens(20),
			batch.WithStrategy(budget.StrategyFail),
		)

		sum, err := p.Run(context.Background(), newRequest(src))
		require.NoError(t, err)

		assert.Equal(t, 0, sum.ProcessedFiles)
		assert.Equal(t, 1, sum.FailedFiles)
		require.Len(t, sum.Errors, 1)
		assert.Contains(t, sum.Errors[0], "content too large for context window")
		assert.Equal(t, 0, llm.GetCallCount())

		fs := fileByName(t, sum, "huge.txt")
		assert.Equal(t, batch.StateFailed, fs.State)
		assert.Zero(t, fs.Chunks)
	})

	t.Run("unreadable file fails only itself", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		good := writeSource(t, inDir, "good.txt", "short body.")
		missing := documentloaders.Source{
			Path: filepath.Join(inDir, "missing.txt"),
			Name: "missing.txt",
		}

		llm := fake.NewFakeLLM([]string{"fine"})
		p := newProcessor(t, llm, newWriter(t, outDir))

		sum, err := p.Run(context.Background(), newRequest(good, missing))
		require.NoError(t, err)

		assert.Equal(t, 1, sum.ProcessedFiles)
		assert.Equal(t, 1, sum.FailedFiles)
		require.Len(t, sum.Errors, 1)
		assert.Contains(t, sum.Errors[0], "missing.txt")
		assert.Equal(t, 1, llm.GetCallCount())
	})

	t.Run("truncate strategy sends the shortened payload", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		src := writeSource(t, inDir, "long.txt", strings.Repeat("word ", 40))

		llm := fake.NewFakeLLM([]string{"summary of the kept part"})
		p := newProcessor(t, llm, newWriter(t, outDir),
			batch.WithContextLimit(50),
			batch.WithMaxTokens(20),
			batch.WithStrategy(budget.StrategyTruncate),
		)

		sum, err := p.Run(context.Background(), newRequest(src))
		require.NoError(t, err)

		assert.Equal(t, 1, sum.ProcessedFiles)
		assert.Equal(t, budget.OutcomeTruncated, fileByName(t, sum, "long.txt").Outcome)

		prompt, ok := llm.LastPrompt()
		require.True(t, ok)
		assert.Contains(t, prompt, "Text was truncated")
	})

	t.Run("error list is capped but counters are not", func(t *testing.T) {
		inDir, outDir := t.TempDir(), t.TempDir()
		var sources []documentloaders.Source
		for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
			sources = append(sources, writeSource(t, inDir, name, "body with POISON."))
		}

		llm := fake.NewFakeLLM([]string{"unused"})
		llm.FailWhen(func(prompt string) error {
			return &llms.StatusError{StatusCode: 500, Message: "boom"}
		})
		p := newProcessor(t, llm, newWriter(t, outDir), batch.WithErrorLimit(2))

		sum, err := p.Run(context.Background(), newRequest(sources...))
		require.NoError(t, err)

		assert.Equal(t, 3, sum.FailedFiles)
		assert.Len(t, sum.Errors, 2)
	})
}

func TestProcessorRunOrderIndependence(t *testing.T) {
	inDir := t.TempDir()
	sources := []documentloaders.Source{
		writeSource(t, inDir, "f1.txt", "alpha beta."),
		writeSource(t, inDir, "f2.txt", "gamma delta."),
		writeSource(t, inDir, "f3.txt", "epsilon zeta."),
		writeSource(t, inDir, "bad.txt", "bad POISON data."),
		writeSource(t, inDir, "split.txt", strings.Repeat("word ", 20)+"tail words beyond the window."),
	}

	runBatch := func(t *testing.T, workers int) *batch.Summary {
		t.Helper()

		llm := fake.NewFakeLLM([]string{"steady"})
		llm.FailWhen(func(prompt string) error {
			if strings.Contains(prompt, "POISON") {
				return &llms.StatusError{StatusCode: 503, Message: "down"}
			}
			return nil
		})
		p := newProcessor(t, llm, newWriter(t, t.TempDir()),
			batch.WithContextLimit(50),
			batch.WithMaxTokens(20),
			batch.WithOverlapTokens(0),
			batch.WithStrategy(budget.StrategySplit),
			batch.WithConcurrency(workers),
		)

		sum, err := p.Run(context.Background(), newRequest(sources...))
		require.NoError(t, err)
		return sum
	}

	concurrent := runBatch(t, 3)
	sequential := runBatch(t, 1)

	assert.Equal(t, sequential.TotalFiles, concurrent.TotalFiles)
	assert.Equal(t, sequential.ProcessedFiles, concurrent.ProcessedFiles)
	assert.Equal(t, sequential.FailedFiles, concurrent.FailedFiles)
	assert.Equal(t, sequential.TotalTokens, concurrent.TotalTokens,
		"final stats do not depend on completion order")

	assert.Equal(t, 4, concurrent.ProcessedFiles)
	assert.Equal(t, 1, concurrent.FailedFiles)
}

func TestProcessorRunCancellation(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	var sources []documentloaders.Source
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		sources = append(sources, writeSource(t, inDir, name, "some body text."))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := fake.NewFakeLLM([]string{"never seen"})
	p := newProcessor(t, llm, newWriter(t, outDir))

	sum, err := p.Run(ctx, newRequest(sources...))
	require.NoError(t, err)

	assert.Equal(t, 0, sum.ProcessedFiles)
	assert.Equal(t, 3, sum.FailedFiles)
	assert.Equal(t, sum.TotalFiles, sum.ProcessedFiles+sum.FailedFiles,
		"counters stay consistent after an abort")
	for _, msg := range sum.Errors {
		assert.Contains(t, msg, "context canceled")
	}
	assert.Empty(t, outputNames(t, outDir))
}

func TestProcessorRunProgress(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	d1 := writeSource(t, inDir, "d1.txt", "first body.")
	d2 := writeSource(t, inDir, "d2.txt", "second body.")

	var events []batch.Event
	llm := fake.NewFakeLLM([]string{"done"})
	p := newProcessor(t, llm, newWriter(t, outDir),
		batch.WithConcurrency(1),
		batch.WithProgress(func(ev batch.Event) {
			events = append(events, ev)
		}),
	)

	_, err := p.Run(context.Background(), newRequest(d1, d2))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, batch.EventChunkDone, events[0].Kind)
	assert.Equal(t, batch.EventFileDone, events[1].Kind)
	assert.Equal(t, batch.EventChunkDone, events[2].Kind)
	assert.Equal(t, batch.EventFileDone, events[3].Kind)

	assert.Equal(t, "d1.txt", events[0].File)
	assert.Equal(t, "d2.txt", events[2].File)

	last := events[3]
	assert.Equal(t, 2, last.DoneFiles)
	assert.Equal(t, 2, last.TotalFiles)
	assert.Equal(t, 2, last.DoneUnits)
	assert.Equal(t, 2, last.TotalUnits)
	require.Len(t, last.Outputs, 1)
}

func TestProcessorPlan(t *testing.T) {
	inDir := t.TempDir()
	good := writeSource(t, inDir, "good.txt", "short planning body.")
	missing := documentloaders.Source{
		Path: filepath.Join(inDir, "gone.txt"),
		Name: "gone.txt",
	}

	llm := fake.NewFakeLLM([]string{"unused"})
	p := newProcessor(t, llm, newWriter(t, t.TempDir()))

	jobs, err := p.Plan(context.Background(), newRequest(good, missing))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, batch.StatePlanned, jobs[0].State)
	require.Len(t, jobs[0].Chunks, 1)
	assert.Contains(t, jobs[0].Chunks[0].Text, testPrompt)

	assert.Equal(t, batch.StateFailed, jobs[1].State)
	assert.Error(t, jobs[1].Err)

	assert.Equal(t, 0, llm.GetCallCount(), "planning never talks to the backend")
}

func TestProcessorRunValidation(t *testing.T) {
	llm := fake.NewFakeLLM([]string{"unused"})
	p := newProcessor(t, llm, newWriter(t, t.TempDir()))

	_, err := p.Run(context.Background(), batch.Request{
		Prompt:  "   ",
		Sources: []documentloaders.Source{{Path: "x", Name: "x"}},
	})
	require.ErrorIs(t, err, batch.ErrNoPrompt)

	_, err = p.Run(context.Background(), batch.Request{Prompt: "Summarize:"})
	require.ErrorIs(t, err, batch.ErrNoSources)
}

func TestProcessorRunWithMetadata(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	src := writeSource(t, inDir, "doc.txt", "body for metadata run.")

	llm := fake.NewFakeLLM([]string{"annotated summary"})
	writer := newWriter(t, outDir, outputs.WithMetadata(true))
	p := newProcessor(t, llm, writer)

	sum, err := p.Run(context.Background(), newRequest(src))
	require.NoError(t, err)
	require.Equal(t, 1, sum.ProcessedFiles)

	content, err := os.ReadFile(fileByName(t, sum, "doc.txt").Outputs[0])
	require.NoError(t, err)

	text := string(content)
	assert.True(t, strings.HasPrefix(text, "<!--\nlmbatch metadata\n"))
	assert.Contains(t, text, "model: fake")
	assert.Contains(t, text, "source file: "+src.Path)
	assert.True(t, strings.HasSuffix(text, "annotated summary"))
}
