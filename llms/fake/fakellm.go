// Package fake provides an in-memory Completer for tests. Responses
// cycle through a configured list and failures can be injected per
// prompt.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sevigo/lmbatch/llms"
	"github.com/sevigo/lmbatch/schema"
	"github.com/sevigo/lmbatch/tokens"
)

type LLM struct {
	mu         sync.Mutex
	responses  []string
	failWhen   func(prompt string) error
	index      int
	prompts    []string
	lastPrompt string
	callCount  int
}

var _ llms.Completer = (*LLM)(nil)

func NewFakeLLM(responses []string) *LLM {
	return &LLM{
		responses: responses,
	}
}

// Complete returns the next predefined response in the cycle. Usage is
// derived from the character counts so tests can predict totals. A
// cancelled context fails the call like a real transport would,
// without recording the prompt.
func (f *LLM) Complete(ctx context.Context, prompt string, _ ...llms.CallOption) (*llms.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastPrompt = prompt
	f.prompts = append(f.prompts, prompt)
	f.callCount++

	if f.failWhen != nil {
		if err := f.failWhen(prompt); err != nil {
			return nil, err
		}
	}

	if len(f.responses) == 0 {
		return nil, errors.New("no responses configured")
	}

	response := f.responses[f.index]
	f.index = (f.index + 1) % len(f.responses)

	promptTokens := tokens.Estimate(prompt)
	completionTokens := tokens.Estimate(response)

	return &llms.Completion{
		Text:  response,
		Model: "fake",
		Usage: schema.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Duration: time.Millisecond,
	}, nil
}

// FailWhen installs a per-prompt failure hook. The hook runs before
// response selection; a non-nil return fails that call. Prompts are
// still recorded for failed calls.
func (f *LLM) FailWhen(fn func(prompt string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWhen = fn
}

// Reset resets the response index, call history, and failure hook.
func (f *LLM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.callCount = 0
	f.lastPrompt = ""
	f.prompts = nil
	f.failWhen = nil
}

// AddResponse appends a new response to the list.
func (f *LLM) AddResponse(response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response)
}

// LastPrompt returns the last prompt sent to the LLM.
func (f *LLM) LastPrompt() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt, f.lastPrompt != ""
}

// Prompts returns a copy of every prompt received, in call order.
func (f *LLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

// GetCallCount returns the number of times the LLM was called.
func (f *LLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}
