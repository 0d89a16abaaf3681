package outputs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/lmbatch/internal/testutil"
	"github.com/sevigo/lmbatch/outputs"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name       string
		promptPath string
		inputName  string
		chunkIndex int
		want       string
	}{
		{
			name:       "whole file",
			promptPath: "prompts/summarize.txt",
			inputName:  "report.txt",
			chunkIndex: 0,
			want:       "summarize.report.txt",
		},
		{
			name:       "chunked file",
			promptPath: "summarize.txt",
			inputName:  "report.md",
			chunkIndex: 2,
			want:       "summarize.report.chunk2.txt",
		},
		{
			name:       "nested input keeps only the base name",
			promptPath: "summarize.txt",
			inputName:  filepath.Join("repo", "docs", "manual.md"),
			chunkIndex: 0,
			want:       "summarize.manual.txt",
		},
		{
			name:       "input without extension",
			promptPath: "summarize.txt",
			inputName:  "README",
			chunkIndex: 0,
			want:       "summarize.README.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := outputs.Filename(tt.promptPath, tt.inputName, tt.chunkIndex)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriter(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	t.Run("writes and reports the path", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithLogger(logger))

		path, err := w.Write("summarize.report.txt", "the summary", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "summarize.report.txt"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "the summary", string(data))
	})

	t.Run("creates the output directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "deep", "output")
		w := outputs.NewWriter(dir, outputs.WithLogger(logger))

		_, err := w.Write("a.txt", "x", nil)
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("collisions pick numbered names", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithLogger(logger))

		first, err := w.Write("out.txt", "one", nil)
		require.NoError(t, err)
		second, err := w.Write("out.txt", "two", nil)
		require.NoError(t, err)
		third, err := w.Write("out.txt", "three", nil)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "out.txt"), first)
		assert.Equal(t, filepath.Join(dir, "out_001.txt"), second)
		assert.Equal(t, filepath.Join(dir, "out_002.txt"), third)

		data, err := os.ReadFile(first)
		require.NoError(t, err)
		assert.Equal(t, "one", string(data), "original file should be untouched")
	})

	t.Run("overwrite replaces in place", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithOverwrite(true), outputs.WithLogger(logger))

		first, err := w.Write("out.txt", "one", nil)
		require.NoError(t, err)
		second, err := w.Write("out.txt", "two", nil)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		data, err := os.ReadFile(first)
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("metadata header precedes content in fixed order", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithMetadata(true), outputs.WithLogger(logger))

		meta := &outputs.Metadata{
			ProcessedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			PromptFile:  "summarize.txt",
			SourceFile:  "report.txt",
			Model:       "qwen2.5-7b",
			Temperature: 0.1,
			MaxTokens:   2048,
			TokensUsed:  345,
		}
		path, err := w.Write("summarize.report.txt", "the summary", meta)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)

		assert.True(t, strings.HasPrefix(content, "<!--\nlmbatch metadata\n"), "header should open the file")
		assert.True(t, strings.HasSuffix(content, "-->\n\nthe summary"), "content should follow the header")

		wantOrder := []string{
			"processed: 2026-03-14T09:30:00Z",
			"prompt file: summarize.txt",
			"source file: report.txt",
			"model: qwen2.5-7b",
			"temperature: 0.1",
			"max tokens: 2048",
			"tokens used: 345",
		}
		lastIdx := -1
		for _, line := range wantOrder {
			idx := strings.Index(content, line)
			require.GreaterOrEqual(t, idx, 0, "header should contain %q", line)
			assert.Greater(t, idx, lastIdx, "header fields should keep their order")
			lastIdx = idx
		}
	})

	t.Run("metadata disabled leaves content untouched", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithLogger(logger))

		path, err := w.Write("out.txt", "bare", &outputs.Metadata{Model: "m"})
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "bare", string(data))
	})

	t.Run("summary counts files and bytes", func(t *testing.T) {
		dir := t.TempDir()
		w := outputs.NewWriter(dir, outputs.WithLogger(logger))

		_, err := w.Write("a.txt", "1234", nil)
		require.NoError(t, err)
		_, err = w.Write("b.txt", "56", nil)
		require.NoError(t, err)

		summary := w.Summary()
		assert.Equal(t, dir, summary.Directory)
		assert.Equal(t, 2, summary.Files)
		assert.Equal(t, int64(6), summary.Bytes)
	})
}
