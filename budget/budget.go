// Package budget decides whether a prompt plus document body fits a model
// context window and, when it does not, applies the configured oversize
// strategy. All arithmetic runs on the same character-based token
// estimator, so the numbers are approximate but self-consistent.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sevigo/lmbatch/schema"
	"github.com/sevigo/lmbatch/textsplitter"
	"github.com/sevigo/lmbatch/tokens"
)

// Strategy selects how content exceeding the available budget is handled.
type Strategy string

const (
	StrategyFail     Strategy = "fail"
	StrategyTruncate Strategy = "truncate"
	StrategySplit    Strategy = "split"
	StrategyForce    Strategy = "force"
)

// ParseStrategy validates a strategy name from configuration or flags.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFail, StrategyTruncate, StrategySplit, StrategyForce:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q (must be one of: fail, truncate, split, force)", ErrUnknownStrategy, s)
	}
}

// ResponseReserveCap bounds the tokens set aside for the model's answer,
// whatever the configured response limit says.
const ResponseReserveCap = 2048

const truncationNotice = "\n\n[NOTE: Text was truncated due to context length limits - %d characters removed]"

// Inputs is one budget question: this prompt, this body, this window.
// Immutable per invocation.
type Inputs struct {
	Prompt            string
	Body              string
	ContextLimit      int
	MaxResponseTokens int
	SafetyMargin      int
	OverlapTokens     int
	Strategy          Strategy
}

// Breakdown is the full budget arithmetic behind a planning decision.
type Breakdown struct {
	PromptTokens    int
	SeparatorTokens int
	BodyTokens      int
	ContextLimit    int
	SafetyMargin    int
	ResponseReserve int
	AvailableTokens int
}

// TotalInput is the estimated token count of the combined payload.
func (b Breakdown) TotalInput() int {
	return b.PromptTokens + b.SeparatorTokens + b.BodyTokens
}

// Outcome tags how a plan resolved the budget check. Callers handle all
// four variants explicitly; only the fail strategy surfaces as an error.
type Outcome string

const (
	OutcomeFits      Outcome = "fits"
	OutcomeForced    Outcome = "forced"
	OutcomeTruncated Outcome = "truncated"
	OutcomeSplit     Outcome = "split"
)

// Plan is the ordered, ready-to-send chunk list for one document.
type Plan struct {
	Outcome   Outcome
	Chunks    []schema.Chunk
	Breakdown Breakdown
}

// SplitterFactory builds the splitter used by the split strategy, sized in
// characters per chunk and characters of overlap.
type SplitterFactory func(chunkSizeChars, overlapChars int) textsplitter.TextSplitter

// Planner turns Inputs into a Plan.
type Planner struct {
	newSplitter    SplitterFactory
	logger         *slog.Logger
	warnTruncation bool
}

// Option configures the planner.
type Option func(*Planner)

// WithLogger sets the logger for planning decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSplitterFactory replaces the default overlap splitter.
func WithSplitterFactory(f SplitterFactory) Option {
	return func(p *Planner) {
		if f != nil {
			p.newSplitter = f
		}
	}
}

// WithTruncationWarnings controls whether truncation is logged at warn
// level. When disabled it is still logged, at debug level.
func WithTruncationWarnings(enabled bool) Option {
	return func(p *Planner) {
		p.warnTruncation = enabled
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		newSplitter: func(chunkSizeChars, overlapChars int) textsplitter.TextSplitter {
			return textsplitter.NewOverlap(
				textsplitter.WithChunkSize(chunkSizeChars),
				textsplitter.WithChunkOverlap(overlapChars),
			)
		},
		logger:         slog.Default(),
		warnTruncation: true,
	}

	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "budget")

	return p
}

// Plan measures the inputs against the context window and emits the chunk
// list. Content that fits is combined verbatim regardless of strategy.
// On overflow the strategy decides: fail returns an *OverflowError, force
// sends the oversize payload unchanged, truncate cuts the body at a word
// boundary, split delegates to the splitter.
func (p *Planner) Plan(ctx context.Context, in Inputs) (*Plan, error) {
	bd := p.measure(in)

	p.logger.DebugContext(ctx, "computed token budget",
		"prompt_tokens", bd.PromptTokens,
		"body_tokens", bd.BodyTokens,
		"context_limit", bd.ContextLimit,
		"available_tokens", bd.AvailableTokens,
		"strategy", in.Strategy,
	)

	if bd.BodyTokens <= bd.AvailableTokens {
		return &Plan{
			Outcome:   OutcomeFits,
			Chunks:    []schema.Chunk{wholeChunk(in.Prompt, in.Body)},
			Breakdown: bd,
		}, nil
	}

	switch in.Strategy {
	case StrategyFail:
		return nil, &OverflowError{Breakdown: bd}

	case StrategyForce:
		p.logger.DebugContext(ctx, "forcing oversize payload", "body_tokens", bd.BodyTokens)
		return &Plan{
			Outcome:   OutcomeForced,
			Chunks:    []schema.Chunk{wholeChunk(in.Prompt, in.Body)},
			Breakdown: bd,
		}, nil

	case StrategyTruncate:
		chunk := truncate(in.Prompt, in.Body, bd.AvailableTokens)
		if chunk.RemovedChars > 0 {
			level := slog.LevelWarn
			if !p.warnTruncation {
				level = slog.LevelDebug
			}
			p.logger.Log(ctx, level, "text truncated to fit context window",
				"removed_chars", chunk.RemovedChars)
		}
		return &Plan{
			Outcome:   OutcomeTruncated,
			Chunks:    []schema.Chunk{chunk},
			Breakdown: bd,
		}, nil

	case StrategySplit:
		splitter := p.newSplitter(
			tokens.CharBudget(bd.AvailableTokens),
			tokens.CharBudget(in.OverlapTokens),
		)
		chunks, err := splitter.Split(ctx, in.Prompt, in.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to split content: %w", err)
		}
		p.logger.DebugContext(ctx, "split content into chunks", "chunks", len(chunks))
		return &Plan{
			Outcome:   OutcomeSplit,
			Chunks:    chunks,
			Breakdown: bd,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q (must be one of: fail, truncate, split, force)", ErrUnknownStrategy, in.Strategy)
	}
}

func (p *Planner) measure(in Inputs) Breakdown {
	reserve := min(in.MaxResponseTokens, ResponseReserveCap)
	promptTokens := tokens.Estimate(in.Prompt)
	separatorTokens := tokens.Estimate(textsplitter.DefaultSeparator)

	return Breakdown{
		PromptTokens:    promptTokens,
		SeparatorTokens: separatorTokens,
		BodyTokens:      tokens.Estimate(in.Body),
		ContextLimit:    in.ContextLimit,
		SafetyMargin:    in.SafetyMargin,
		ResponseReserve: reserve,
		AvailableTokens: in.ContextLimit - promptTokens - separatorTokens - in.SafetyMargin - reserve,
	}
}

func wholeChunk(prompt, body string) schema.Chunk {
	payload := prompt + textsplitter.DefaultSeparator + body
	return schema.Chunk{
		Text:   payload,
		End:    len(body),
		Chars:  len(payload),
		Tokens: tokens.Estimate(payload),
	}
}

// truncate cuts the body to the character budget at the last space before
// the limit, so the kept text never ends mid-word, and appends a notice
// naming the removed character count.
func truncate(prompt, body string, availableTokens int) schema.Chunk {
	maxChars := tokens.CharBudget(availableTokens)

	kept := body
	removed := 0
	if len(body) > maxChars {
		cut := body[:maxChars]
		if idx := strings.LastIndexByte(cut, ' '); idx >= 0 {
			cut = cut[:idx]
		} else {
			cut = ""
		}
		removed = len(body) - len(cut)
		kept = cut + fmt.Sprintf(truncationNotice, removed)
	}

	payload := prompt + textsplitter.DefaultSeparator + kept
	return schema.Chunk{
		Text:         payload,
		End:          len(body) - removed,
		Chars:        len(payload),
		Tokens:       tokens.Estimate(payload),
		Truncated:    removed > 0,
		RemovedChars: removed,
	}
}
