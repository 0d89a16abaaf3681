package documentloaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileLoader names a single explicit input file. The extension is not
// checked: a file the user points at directly is always processed.
type FileLoader struct {
	path string
}

var _ Loader = (*FileLoader)(nil)

// NewFile creates a loader for one file.
func NewFile(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load verifies the path names a regular file and returns it as the
// only source.
func (l *FileLoader) Load(_ context.Context) ([]Source, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("input file not accessible: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("input path %s is a directory, not a file", l.path)
	}

	return []Source{{
		Path: l.path,
		Name: filepath.Base(l.path),
	}}, nil
}
