package textsplitter

import "errors"

var (
	// ErrInvalidChunkSize rejects a non-positive chunk budget before the
	// split loop runs. Degenerate budgets would otherwise never advance.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// Markers embedded into chunk payloads. Fixed text the backend sees;
// changing them changes every produced chunk.
const (
	chunkHeaderFormat = "[CHUNK %d of estimated %d]\n\n"
	continuedMarker   = "[...continued from previous chunk]\n"
	overlapDivider    = "\n---\n"
	continuesMarker   = "\n[...continues in next chunk]"
)
