package budget

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrContextOverflow = errors.New("content exceeds context window")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// overflowPrinter groups thousands in the diagnostic, token counts get
// large enough that 1,048,576 reads better than 1048576.
var overflowPrinter = message.NewPrinter(language.English)

// OverflowError is returned by the fail strategy when the body does not
// fit the available budget. It carries the complete breakdown so callers
// can show the user exactly where the window went.
type OverflowError struct {
	Breakdown Breakdown
}

func (e *OverflowError) Error() string {
	b := e.Breakdown
	return overflowPrinter.Sprintf(
		"content too large for context window:\n"+
			"  prompt: %d tokens\n"+
			"  body: %d tokens\n"+
			"  total: %d tokens\n"+
			"  context limit: %d tokens\n"+
			"  available for body: %d tokens\n\n"+
			"suggested solutions:\n"+
			"  1. use a larger context model\n"+
			"  2. split processing: --strategy split\n"+
			"  3. force send anyway: --strategy force\n"+
			"  4. allow truncation: --strategy truncate",
		b.PromptTokens, b.BodyTokens, b.TotalInput(), b.ContextLimit, b.AvailableTokens)
}

func (e *OverflowError) Unwrap() error {
	return ErrContextOverflow
}
