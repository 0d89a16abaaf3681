// Package lmstudio provides an LM Studio backend speaking the
// OpenAI-compatible chat completions API. It is the default backend:
// any server exposing /v1/chat/completions works with it, LM Studio or
// not.
package lmstudio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/schema"
)

const healthCheckTimeout = 5 * time.Second

// LLM is an LM Studio completion backend.
type LLM struct {
	client  *Client
	options options
	logger  *slog.Logger
}

var (
	_ llms.Completer = (*LLM)(nil)
	_ llms.Verifier  = (*LLM)(nil)
)

// New creates a new LM Studio LLM instance.
func New(opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: o.timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxConnsPerHost:     100,
				MaxIdleConnsPerHost: 100,
				ForceAttemptHTTP2:   true,
			},
		}
	}

	client, err := NewClient(&ClientConfig{
		BaseURL:       o.serverURL,
		HTTPClient:    httpClient,
		RetryAttempts: o.retryAttempts,
		RetryDelay:    o.retryDelay,
		Logger:        o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LM Studio client: %w", err)
	}

	llm := &LLM{
		client:  client,
		options: o,
		logger:  o.logger.With("component", "lmstudio_llm", "model", o.model),
	}
	llm.logger.Info("LM Studio LLM initialized successfully", "server_url", client.BaseURL())
	return llm, nil
}

// Complete sends the prompt as a single user message and returns the
// assistant's answer.
func (l *LLM) Complete(ctx context.Context, prompt string, options ...llms.CallOption) (*llms.Completion, error) {
	start := time.Now()

	opts := llms.CallOptions{Model: l.options.model}
	for _, opt := range options {
		opt(&opts)
	}

	req := &ChatRequest{
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      false,
	}
	// An empty or "default" model lets the server pick its loaded model.
	if opts.Model != "" && opts.Model != "default" {
		req.Model = opts.Model
	}

	l.logger.DebugContext(ctx, "sending completion request",
		"prompt_chars", len(prompt),
		"max_tokens", opts.MaxTokens)

	resp, err := l.client.ChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		l.logger.ErrorContext(ctx, "completion request failed",
			"error", err,
			"duration", duration)
		return nil, err
	}

	text, err := extractText(resp)
	if err != nil {
		l.logger.ErrorContext(ctx, "completion response unusable",
			"error", err,
			"duration", duration)
		return nil, err
	}

	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(text)); err != nil {
			return nil, fmt.Errorf("streaming function returned an error: %w", err)
		}
	}

	model := resp.Model
	if model == "" {
		model = opts.Model
	}

	l.logger.DebugContext(ctx, "completion received",
		"response_chars", len(text),
		"total_tokens", resp.Usage.TotalTokens,
		"duration", duration)

	return &llms.Completion{
		Text:  text,
		Model: model,
		Usage: schema.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Duration: duration,
	}, nil
}

// Verify checks that the server is reachable and reports its models.
func (l *LLM) Verify(ctx context.Context) (*llms.ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp, err := l.client.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("server is not responding: %w", err)
	}

	info := &llms.ServerInfo{URL: l.client.BaseURL()}
	for _, m := range resp.Data {
		info.Models = append(info.Models, m.ID)
	}
	return info, nil
}

// extractText pulls the assistant message out of a response, rejecting
// replies with no choices or blank content.
func extractText(resp *ChatResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", llms.ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: choice content is blank", llms.ErrEmptyResponse)
	}
	return text, nil
}
