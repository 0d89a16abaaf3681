// Package documentloaders discovers batch input files and reads them
// into documents. Discovery (which files take part in a run) is
// separate from reading (materializing one file's content), so a
// single unreadable file fails only its own job while an empty or
// missing input source fails the run.
package documentloaders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sevigo/lmbatch/schema"
)

// Common errors returned by loaders.
var (
	// ErrNoInputFiles means discovery finished without finding anything
	// to process.
	ErrNoInputFiles = errors.New("no input files found")
	// ErrEmptyPrompt means the prompt file contained only whitespace.
	ErrEmptyPrompt = errors.New("prompt file is empty")
)

// Source names one discovered input file.
type Source struct {
	// Path locates the file on disk.
	Path string
	// Name is the display name, relative to the discovery root where
	// one exists. Output filenames derive from it.
	Name string
}

// Loader discovers input files from some origin. Implementations
// handle origin-specific logic (a single path, a directory walk, a
// repository checkout) and return a deterministic file list.
type Loader interface {
	Load(ctx context.Context) ([]Source, error)
}

// ReadSource materializes one input file as a document. Text files go
// through the encoding fallback chain; PDF files are extracted page by
// page. Errors here are per-file: the caller decides whether they sink
// the whole run.
func ReadSource(src Source) (schema.Document, error) {
	if strings.EqualFold(filepath.Ext(src.Path), ".pdf") {
		return readPDFSource(src)
	}

	content, encoding, err := ReadTextFile(src.Path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to read %s: %w", src.Path, err)
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return schema.Document{}, fmt.Errorf("failed to stat %s: %w", src.Path, err)
	}

	return schema.NewDocument(content, map[string]any{
		"source":    src.Name,
		"path":      src.Path,
		"encoding":  encoding,
		"file_size": info.Size(),
		"mod_time":  info.ModTime(),
	}), nil
}
