package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sevigo/lmbatch/schema"
)

// Common errors returned by backend implementations.
var (
	// ErrEmptyResponse means the backend replied without usable content.
	// Not retryable; the payload reached the server and came back hollow.
	ErrEmptyResponse = errors.New("llms: empty response received")
)

// StatusError reports a non-success HTTP reply from a backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient condition
// worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Completion is the outcome of one completion request.
type Completion struct {
	Text     string
	Model    string
	Usage    schema.Usage
	Duration time.Duration
}

// Completer sends one ready-made prompt payload to a text-generation
// backend and returns the answer together with the reported token usage.
type Completer interface {
	Complete(ctx context.Context, prompt string, options ...CallOption) (*Completion, error)
}

// ServerInfo describes a reachable backend and the models it serves.
type ServerInfo struct {
	URL    string
	Models []string
}

// Verifier is implemented by backends that can check their own
// reachability before a batch starts.
type Verifier interface {
	Verify(ctx context.Context) (*ServerInfo, error)
}
