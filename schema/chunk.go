package schema

// Chunk is one self-contained payload ready to be sent to a completion
// backend: the shared prompt joined with (all or part of) a document body,
// plus any continuation markers added during splitting. A Chunk is
// immutable once produced.
type Chunk struct {
	// Text is the complete payload, markers included.
	Text string

	// Index is the 1-based position of this chunk within its source
	// document. Zero means the body was sent whole, without splitting.
	Index int

	// TotalEstimate is a best-effort guess at the final chunk count as
	// shown in chunk headers. Word-boundary back-off and overlap growth
	// are not modeled, so the real count may differ. Informational only.
	TotalEstimate int

	// Start and End locate the chunk core inside the source body as a
	// half-open byte range [Start, End). Unsplit payloads span the portion
	// of the body they carry, so End < len(body) after truncation.
	Start int
	End   int

	// Chars is len(Text); Tokens is the estimator's guess for Text.
	Chars  int
	Tokens int

	Truncated    bool
	Split        bool
	RemovedChars int
}

// Usage reports token consumption as measured by the backend itself.
// Batch accounting sums these figures, never estimator output.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
