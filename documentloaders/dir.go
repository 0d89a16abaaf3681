package documentloaders

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// DefaultExtensions are the file types a directory walk picks up.
var DefaultExtensions = []string{
	".txt", ".md", ".markdown", ".rst", ".text",
	".log", ".csv", ".json", ".py", ".js", ".html", ".xml",
	".pdf",
}

// DirLoader discovers input files under a directory. Top-level only by
// default; recursive walks skip the usual build and VCS directories.
type DirLoader struct {
	path       string
	extensions []string
	recursive  bool
	logger     *slog.Logger
}

var _ Loader = (*DirLoader)(nil)

// DirOption configures a DirLoader.
type DirOption func(*DirLoader)

// WithExtensions replaces the default extension filter. Entries are
// matched case-insensitively and must include the dot.
func WithExtensions(extensions []string) DirOption {
	return func(l *DirLoader) {
		if len(extensions) > 0 {
			l.extensions = extensions
		}
	}
}

// WithRecursive enables walking into subdirectories.
func WithRecursive(recursive bool) DirOption {
	return func(l *DirLoader) {
		l.recursive = recursive
	}
}

// WithDirLogger sets a custom logger for the walk.
func WithDirLogger(logger *slog.Logger) DirOption {
	return func(l *DirLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewDir creates a loader that discovers matching files under path.
func NewDir(path string, opts ...DirOption) *DirLoader {
	loader := &DirLoader{
		path:       path,
		extensions: DefaultExtensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(loader)
	}
	loader.logger = loader.logger.With("component", "dir_loader")
	return loader
}

// Load walks the directory and returns matching files sorted by name,
// so runs over the same tree process files in the same order.
func (l *DirLoader) Load(_ context.Context) ([]Source, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("input directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", l.path)
	}

	var sources []Source

	err = filepath.WalkDir(l.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path == l.path {
				return nil
			}
			if !l.recursive {
				return filepath.SkipDir
			}
			if shouldSkipDir(d.Name()) {
				l.logger.Debug("skipping excluded directory", "dir", d.Name(), "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		if !l.matchesExtension(path) {
			return nil
		}

		name, relErr := filepath.Rel(l.path, path)
		if relErr != nil {
			name = filepath.Base(path)
		}
		sources = append(sources, Source{Path: path, Name: name})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory walk failed: %w", err)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputFiles, l.path)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	l.logger.Debug("directory discovery completed",
		"path", l.path,
		"files", len(sources),
		"recursive", l.recursive)
	return sources, nil
}

func (l *DirLoader) matchesExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range l.extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// shouldSkipDir returns true for directories that never hold batch
// inputs: VCS internals, dependency trees, build outputs.
func shouldSkipDir(name string) bool {
	skipDirs := []string{
		".git", ".svn", ".hg",
		"vendor", "node_modules", "__pycache__",
		"build", "dist", "target", "out", "bin",
		".vscode", ".idea", ".vs",
	}
	return slices.Contains(skipDirs, name)
}
