// Package gemini provides a Google Gemini backend for cloud-hosted
// batch runs.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

var (
	ErrNoAPIKey     = errors.New("gemini: API key is required")
	ErrInvalidModel = errors.New("gemini: invalid model specified")
)

// LLM is a Gemini completion backend.
type LLM struct {
	client  *genai.Client
	options options
	logger  *slog.Logger
}

var _ llms.Completer = (*LLM)(nil)

// New creates a new Gemini LLM client. The API key falls back to the
// GEMINI_API_KEY environment variable.
func New(ctx context.Context, opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)

	if o.apiKey == "" {
		o.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	if o.model == "" {
		return nil, ErrInvalidModel
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: o.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	llm := &LLM{
		client:  client,
		options: o,
		logger:  o.logger.With("component", "gemini_llm", "model", o.model),
	}

	llm.logger.Info("Gemini LLM initialized successfully")
	return llm, nil
}

// Complete sends the prompt as a single user turn. With a streaming
// callback set, fragments are forwarded as they arrive.
func (g *LLM) Complete(ctx context.Context, prompt string, options ...llms.CallOption) (*llms.Completion, error) {
	start := time.Now()

	opts := llms.CallOptions{Model: g.options.model}
	for _, opt := range options {
		opt(&opts)
	}

	genConfig := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	g.logger.DebugContext(ctx, "sending completion request",
		"prompt_chars", len(prompt),
		"max_tokens", opts.MaxTokens)

	if opts.StreamingFunc == nil {
		resp, err := g.client.Models.GenerateContent(ctx, opts.Model, contents, genConfig)
		duration := time.Since(start)
		if err != nil {
			g.logger.ErrorContext(ctx, "completion request failed", "error", err, "duration", duration)
			return nil, err
		}
		return g.toCompletion(resp, opts.Model, duration)
	}

	var fullResponse strings.Builder
	var finalResp *genai.GenerateContentResponse

	for resp, errStream := range g.client.Models.GenerateContentStream(ctx, opts.Model, contents, genConfig) {
		if errors.Is(errStream, iterator.Done) {
			break
		}
		if errStream != nil {
			g.logger.ErrorContext(ctx, "stream error", "error", errStream)
			return nil, errStream
		}

		finalResp = resp
		chunkContent := extractContentFromResponse(resp)
		fullResponse.WriteString(chunkContent)
		if err := opts.StreamingFunc(ctx, []byte(chunkContent)); err != nil {
			return nil, fmt.Errorf("streaming function returned an error: %w", err)
		}
	}

	duration := time.Since(start)
	text := strings.TrimSpace(fullResponse.String())
	if text == "" {
		return nil, llms.ErrEmptyResponse
	}

	return &llms.Completion{
		Text:     text,
		Model:    opts.Model,
		Usage:    usageFromMetadata(finalResp),
		Duration: duration,
	}, nil
}

// toCompletion converts a non-streaming response, rejecting replies
// without usable text.
func (g *LLM) toCompletion(resp *genai.GenerateContentResponse, model string, duration time.Duration) (*llms.Completion, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", llms.ErrEmptyResponse)
	}

	text := strings.TrimSpace(extractContentFromResponse(resp))
	if text == "" {
		return nil, fmt.Errorf("%w: candidate content is blank", llms.ErrEmptyResponse)
	}

	return &llms.Completion{
		Text:     text,
		Model:    model,
		Usage:    usageFromMetadata(resp),
		Duration: duration,
	}, nil
}

func usageFromMetadata(resp *genai.GenerateContentResponse) schema.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return schema.Usage{}
	}
	return schema.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// extractContentFromResponse safely extracts the text content from a response.
func extractContentFromResponse(resp *genai.GenerateContentResponse) string {
	var builder strings.Builder
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				builder.WriteString(part.Text)
			}
		}
	}
	return builder.String()
}
