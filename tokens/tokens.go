// Package tokens approximates token counts from character lengths.
//
// The heuristic is the usual ~4 characters per token. It is deliberately
// not a real tokenizer: every budget computation in this module uses the
// same approximation for prompt, separator and body, so the arithmetic
// stays self-consistent even though individual counts are rough.
package tokens

// CharsPerToken is the assumed average character length of one token.
const CharsPerToken = 4

// Estimate returns ceil(len(text) / CharsPerToken).
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// EstimateAt is Estimate with a caller-chosen ratio. Ratios below one
// fall back to CharsPerToken.
func EstimateAt(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = CharsPerToken
	}
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// CharBudget converts a token budget back into a character allowance.
// Negative budgets clamp to zero.
func CharBudget(tokenCount int) int {
	if tokenCount <= 0 {
		return 0
	}
	return tokenCount * CharsPerToken
}
