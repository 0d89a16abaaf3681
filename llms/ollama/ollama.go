// Package ollama provides an Ollama backend using its native chat API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/llms/ollama/ollamaclient"
	"github.com/sevigo/lmbatch/schema"
)

// Common errors returned by the Ollama LLM implementation.
var (
	ErrInvalidModel = errors.New("ollama: invalid model specified")
)

// LLM is an Ollama completion backend. Unlike the OpenAI-compatible
// backend, Ollama requires an explicit model name.
type LLM struct {
	client  *ollamaclient.Client
	options options
	logger  *slog.Logger
}

var (
	_ llms.Completer = (*LLM)(nil)
	_ llms.Verifier  = (*LLM)(nil)
)

// New creates a new Ollama LLM instance.
func New(opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)

	if o.model == "" {
		return nil, ErrInvalidModel
	}

	client, err := ollamaclient.NewClient(o.serverURL, o.httpClient, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	llm := &LLM{
		client:  client,
		options: o,
		logger:  o.logger.With("component", "ollama_llm", "model", o.model),
	}

	llm.logger.Info("Ollama LLM initialized successfully")
	return llm, nil
}

// Complete sends the prompt as a single user message through the native
// chat endpoint. With a streaming callback set, fragments are forwarded
// as they arrive; otherwise the reply is accumulated and returned whole.
func (o *LLM) Complete(ctx context.Context, prompt string, options ...llms.CallOption) (*llms.Completion, error) {
	start := time.Now()

	opts := llms.CallOptions{Model: o.options.model}
	for _, opt := range options {
		opt(&opts)
	}

	isStreaming := opts.StreamingFunc != nil
	req := &api.ChatRequest{
		Model:    opts.Model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &isStreaming,
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		req.Options = map[string]any{}
		if opts.Temperature > 0 {
			req.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.Options["num_predict"] = opts.MaxTokens
		}
	}

	o.logger.DebugContext(ctx, "sending completion request",
		"prompt_chars", len(prompt),
		"max_tokens", opts.MaxTokens)

	var fullResponse strings.Builder
	var finalResp api.ChatResponse

	fn := func(response api.ChatResponse) error {
		fullResponse.WriteString(response.Message.Content)
		if opts.StreamingFunc != nil && response.Message.Content != "" {
			if errStream := opts.StreamingFunc(ctx, []byte(response.Message.Content)); errStream != nil {
				return fmt.Errorf("streaming function returned an error: %w", errStream)
			}
		}
		if response.Done {
			finalResp = response
		}
		return nil
	}

	err := o.client.GenerateChat(ctx, req, fn)
	duration := time.Since(start)
	if err != nil {
		o.logger.ErrorContext(ctx, "completion request failed",
			"error", err,
			"duration", duration)
		return nil, err
	}

	text := strings.TrimSpace(fullResponse.String())
	if text == "" {
		return nil, llms.ErrEmptyResponse
	}

	o.logger.DebugContext(ctx, "completion received",
		"response_chars", len(text),
		"total_tokens", finalResp.PromptEvalCount+finalResp.EvalCount,
		"duration", duration)

	return &llms.Completion{
		Text:  text,
		Model: opts.Model,
		Usage: schema.Usage{
			PromptTokens:     finalResp.PromptEvalCount,
			CompletionTokens: finalResp.EvalCount,
			TotalTokens:      finalResp.PromptEvalCount + finalResp.EvalCount,
		},
		Duration: duration,
	}, nil
}

// Verify checks that the server is reachable and reports its local models.
func (o *LLM) Verify(ctx context.Context) (*llms.ServerInfo, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("server is not responding: %w", err)
	}

	info := &llms.ServerInfo{URL: o.client.GetBaseURL().String()}
	for _, m := range resp.Models {
		info.Models = append(info.Models, m.Name)
	}
	return info, nil
}
