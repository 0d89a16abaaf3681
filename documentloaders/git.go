package documentloaders

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/sevigo/lmbatch/gitutil"
)

// GitLoader discovers input files in a remote repository. Load clones
// the repository shallowly into a temporary directory and walks it like
// a recursive DirLoader. The checkout stays on disk until Close so
// sources can be read lazily after discovery.
type GitLoader struct {
	repoURL    string
	dirOptions []DirOption
	logger     *slog.Logger
	cleanup    func()
}

var _ Loader = (*GitLoader)(nil)

// GitOption configures a GitLoader.
type GitOption func(*GitLoader)

// WithGitLogger sets a custom logger for the clone and walk.
func WithGitLogger(logger *slog.Logger) GitOption {
	return func(l *GitLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithGitExtensions replaces the extension filter applied to the checkout.
func WithGitExtensions(extensions []string) GitOption {
	return func(l *GitLoader) {
		l.dirOptions = append(l.dirOptions, WithExtensions(extensions))
	}
}

// NewGit creates a loader for a remote repository URL.
func NewGit(repoURL string, opts ...GitOption) *GitLoader {
	loader := &GitLoader{
		repoURL: repoURL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

// Load clones the repository and discovers matching files in it. Source
// names are prefixed with the repository name so outputs from different
// repositories stay distinguishable.
func (l *GitLoader) Load(ctx context.Context) ([]Source, error) {
	cloner := gitutil.NewCloner(l.logger)
	checkoutPath, cleanup, err := cloner.Clone(ctx, l.repoURL)
	if err != nil {
		return nil, err
	}
	l.cleanup = cleanup

	dirOpts := append([]DirOption{
		WithRecursive(true),
		WithDirLogger(l.logger),
	}, l.dirOptions...)

	sources, err := NewDir(checkoutPath, dirOpts...).Load(ctx)
	if err != nil {
		l.Close()
		return nil, err
	}

	repoName := gitutil.RepoName(l.repoURL)
	for i := range sources {
		sources[i].Name = filepath.Join(repoName, sources[i].Name)
	}
	return sources, nil
}

// Close removes the temporary checkout. Safe to call more than once or
// before Load.
func (l *GitLoader) Close() {
	if l.cleanup != nil {
		l.cleanup()
		l.cleanup = nil
	}
}
