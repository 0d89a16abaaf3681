package lmstudio

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type options struct {
	serverURL     *url.URL
	httpClient    *http.Client
	model         string
	timeout       time.Duration
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		timeout:       DefaultTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithServerURL sets the LM Studio server address.
func WithServerURL(rawURL string) Option {
	return func(o *options) {
		var err error
		o.serverURL, err = url.Parse(rawURL)
		if err != nil {
			o.serverURL = nil
		}
	}
}

// WithHTTPClient replaces the default HTTP client. WithTimeout has no
// effect when a custom client is supplied.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithModel sets the model name sent with every request. An empty name
// or "default" defers to whatever model the server has loaded.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRetry configures the retry budget for transient failures.
// Attempts counts total tries including the first; delay is the backoff
// base that doubles per retry.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.retryAttempts = attempts
		}
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithLogger sets the logger for the LLM and its HTTP client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
