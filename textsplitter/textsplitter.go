package textsplitter

import (
	"context"

	"github.com/sevigo/lmbatch/schema"
)

// DefaultSeparator joins the prompt and the document body in every
// payload sent to the backend. Budget arithmetic accounts for it.
const DefaultSeparator = "\n\n---\n\n"

// TextSplitter turns one oversized document body into an ordered list of
// self-contained chunks, each already combined with the shared prompt.
type TextSplitter interface {
	Split(ctx context.Context, prompt, body string) ([]schema.Chunk, error)
}
