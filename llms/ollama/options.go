package ollama

import (
	"log/slog"
	"net/http"
	"net/url"
)

type options struct {
	model      string
	serverURL  *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel sets the model name. Ollama has no server-side default, so
// a model is required.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithServerURL sets the Ollama server address. When unset the client
// honors OLLAMA_URL and falls back to the standard local port.
func WithServerURL(rawURL string) Option {
	return func(o *options) {
		if parsed, err := url.Parse(rawURL); err == nil {
			o.serverURL = parsed
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
