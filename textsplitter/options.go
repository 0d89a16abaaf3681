package textsplitter

// options holds configuration settings for the text splitter.
type options struct {
	chunkSize    int
	chunkOverlap int
	separator    string
}

// Option is a function type for configuring the splitter.
type Option func(*options)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithChunkOverlap sets the chunk overlap in characters.
func WithChunkOverlap(overlap int) Option {
	return func(o *options) {
		if overlap >= 0 {
			o.chunkOverlap = overlap
		}
	}
}

// WithSeparator sets the text placed between the prompt and the body.
func WithSeparator(sep string) Option {
	return func(o *options) {
		o.separator = sep
	}
}
