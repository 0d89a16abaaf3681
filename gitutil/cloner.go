// Package gitutil handles temporary checkouts of remote Git
// repositories used as batch input sources.
package gitutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Cloner handles the temporary cloning of remote Git repositories.
type Cloner struct {
	Logger *slog.Logger
}

// NewCloner creates a new Cloner.
func NewCloner(logger *slog.Logger) *Cloner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cloner{Logger: logger}
}

// Clone checks out a remote repository to a temporary local directory.
// The returned cleanup function removes the checkout.
func (c *Cloner) Clone(ctx context.Context, repoURL string) (string, func(), error) {
	tempPath, err := os.MkdirTemp("", "lmbatch-repo-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	c.Logger.InfoContext(ctx, "cloning repository", "url", repoURL, "path", tempPath)

	cleanupFunc := func() {
		c.Logger.Debug("cleaning up temporary repository", "path", tempPath)
		_ = os.RemoveAll(tempPath)
	}

	_, err = git.PlainCloneContext(ctx, tempPath, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: nil,
		Depth:    1,
	})

	if err != nil {
		cleanupFunc()
		return "", nil, fmt.Errorf("failed to clone repo '%s': %w", repoURL, err)
	}

	c.Logger.InfoContext(ctx, "repository cloned successfully")
	return tempPath, cleanupFunc, nil
}

// RepoName derives a short display name from a repository URL.
func RepoName(repoURL string) string {
	name := strings.TrimSuffix(repoURL, "/")
	name = strings.TrimSuffix(name, ".git")
	if idx := strings.LastIndexAny(name, "/:"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return "repo"
	}
	return name
}

// IsRepoURL reports whether an input argument looks like a remote
// repository rather than a local path.
func IsRepoURL(input string) bool {
	return strings.HasPrefix(input, "http://") ||
		strings.HasPrefix(input, "https://") ||
		strings.HasPrefix(input, "git@") ||
		strings.HasPrefix(input, "ssh://")
}
