package llms

import "context"

type CallOption func(*CallOptions)

type CallOptions struct {
	Model         string                                        `json:"model"`
	Temperature   float64                                       `json:"temperature"`
	MaxTokens     int                                           `json:"max_tokens"`
	StreamingFunc func(ctx context.Context, chunk []byte) error `json:"-"`
}

// WithModel overrides the model for this call.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithMaxTokens caps the number of tokens the backend may generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithStreamingFunc specifies the streaming function to use. Backends
// without native streaming invoke it once with the full response text.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) CallOption {
	return func(o *CallOptions) {
		o.StreamingFunc = streamingFunc
	}
}
