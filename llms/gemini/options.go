package gemini

import (
	"log/slog"
)

type options struct {
	model  string
	apiKey string
	logger *slog.Logger
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		model:  DefaultModel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel sets the Gemini model name.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithAPIKey sets the API key. When unset the client falls back to the
// GEMINI_API_KEY environment variable.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
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
