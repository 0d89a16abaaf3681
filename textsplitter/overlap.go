package textsplitter

import (
	"context"
	"fmt"
	"strings"

	"github.com/sevigo/lmbatch/schema"
	"github.com/sevigo/lmbatch/tokens"
)

// Overlap is a deterministic splitter that walks the body left to right in
// fixed-size character windows, backing off to the last space so chunks do
// not end mid-word, and duplicating a configurable tail of the previous
// window into the next one for cross-chunk context. Every produced chunk
// is a complete payload: prompt, separator, chunk header, marked body part.
type Overlap struct {
	opts options
}

var _ TextSplitter = (*Overlap)(nil)

// NewOverlap creates a new Overlap splitter.
func NewOverlap(opts ...Option) *Overlap {
	o := options{
		chunkSize:    1000,
		chunkOverlap: 200,
		separator:    DefaultSeparator,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Overlap{
		opts: o,
	}
}

// Split produces the ordered chunk list for one body. The chunk cores read
// back in index order cover [0, len(body)) without gaps; overlap text only
// ever duplicates content, the cursor itself never rewinds.
func (s *Overlap) Split(_ context.Context, prompt, body string) ([]schema.Chunk, error) {
	chunkSize := s.opts.chunkSize
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	bodyLen := len(body)
	// Informational estimate only. Word-boundary back-off makes real
	// chunks slightly shorter, so the true count may exceed this.
	estimated := (bodyLen+chunkSize-1)/chunkSize + 1

	var chunks []schema.Chunk
	start := 0

	for start < bodyLen {
		end := min(start+chunkSize, bodyLen)

		// Back off to the last space unless that would leave the chunk
		// shorter than 80% of the window.
		if end < bodyLen {
			if sp := strings.LastIndexByte(body[start:end], ' '); sp >= 0 {
				pos := start + sp
				if pos > start+chunkSize*4/5 {
					end = pos
				}
			}
		}

		core := body[start:end]

		marked := core
		if start > 0 {
			from := max(0, start-s.opts.chunkOverlap)
			marked = continuedMarker + body[from:start] + overlapDivider + core
		}
		if end < bodyLen {
			marked += continuesMarker
		}

		index := len(chunks) + 1
		header := fmt.Sprintf(chunkHeaderFormat, index, estimated)
		payload := prompt + s.opts.separator + header + marked

		chunks = append(chunks, schema.Chunk{
			Text:          payload,
			Index:         index,
			TotalEstimate: estimated,
			Start:         start,
			End:           end,
			Chars:         len(payload),
			Tokens:        tokens.Estimate(payload),
			Split:         true,
		})

		// end > start holds whenever chunkSize > 0, so the walk terminates.
		start = end
	}

	return chunks, nil
}
