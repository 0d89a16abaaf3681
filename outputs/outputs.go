// Package outputs names and writes the result files of a batch run.
package outputs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Filename builds the output name for a processed input:
// {promptStem}.{inputStem}.txt, with a chunk marker for split files.
// chunkIndex 0 means the input was sent whole.
func Filename(promptPath, inputName string, chunkIndex int) string {
	promptStem := stem(promptPath)
	inputStem := stem(inputName)
	if chunkIndex > 0 {
		return fmt.Sprintf("%s.%s.chunk%d.txt", promptStem, inputStem, chunkIndex)
	}
	return fmt.Sprintf("%s.%s.txt", promptStem, inputStem)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Metadata describes one completed file for the optional output header.
type Metadata struct {
	ProcessedAt time.Time
	PromptFile  string
	SourceFile  string
	Model       string
	Temperature float64
	MaxTokens   int
	TokensUsed  int
}

// Header renders the metadata comment block prepended to output files.
// Field order is fixed so outputs diff cleanly between runs.
func (m *Metadata) Header() string {
	var b strings.Builder
	b.WriteString("<!--\n")
	b.WriteString("lmbatch metadata\n")
	fmt.Fprintf(&b, "processed: %s\n", m.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "prompt file: %s\n", m.PromptFile)
	fmt.Fprintf(&b, "source file: %s\n", m.SourceFile)
	fmt.Fprintf(&b, "model: %s\n", m.Model)
	fmt.Fprintf(&b, "temperature: %g\n", m.Temperature)
	fmt.Fprintf(&b, "max tokens: %d\n", m.MaxTokens)
	fmt.Fprintf(&b, "tokens used: %d\n", m.TokensUsed)
	b.WriteString("-->\n\n")
	return b.String()
}

// Writer persists response texts under one output directory.
type Writer struct {
	dir             string
	overwrite       bool
	includeMetadata bool
	logger          *slog.Logger

	filesWritten int
	bytesWritten int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithOverwrite makes Write replace existing files instead of picking
// a numbered alternative.
func WithOverwrite(overwrite bool) Option {
	return func(w *Writer) {
		w.overwrite = overwrite
	}
}

// WithMetadata enables the metadata header block.
func WithMetadata(include bool) Option {
	return func(w *Writer) {
		w.includeMetadata = include
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a writer rooted at dir. The directory is created
// lazily on first write.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "output_writer")
	return w
}

// Write stores content under filename and returns the path actually
// used. Without overwrite, a name collision picks base_001.txt,
// base_002.txt and so on, never clobbering earlier results.
func (w *Writer) Write(filename, content string, meta *Metadata) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.dir, filename)
	if !w.overwrite {
		path = uniquePath(path)
	}

	full := content
	if w.includeMetadata && meta != nil {
		full = meta.Header() + content
	}

	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		return "", fmt.Errorf("failed to write output file: %w", err)
	}

	w.filesWritten++
	w.bytesWritten += int64(len(full))
	w.logger.Debug("output written", "path", path, "bytes", len(full))
	return path, nil
}

// uniquePath returns path itself when free, otherwise the first
// numbered variant that does not exist yet.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%03d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Summary reports what a run left on disk.
type Summary struct {
	Directory string
	Files     int
	Bytes     int64
}

// Summary returns the write totals so far.
func (w *Writer) Summary() Summary {
	return Summary{
		Directory: w.dir,
		Files:     w.filesWritten,
		Bytes:     w.bytesWritten,
	}
}
