// Package tokens provides token estimation for context budget management.
// The heuristic is calibrated for modern LLM tokenizers (~4 characters per
// token) and is deliberately cheap: budget math runs on every compilation.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// DefaultCharsPerToken is the calibration factor used by NewCounter.
const DefaultCharsPerToken = 4.0

// Counter estimates token counts from text.
type Counter struct {
	charsPerToken float64
}

// NewCounter creates a counter with the default calibration.
func NewCounter() *Counter {
	return &Counter{charsPerToken: DefaultCharsPerToken}
}

// NewCounterWithRatio creates a counter with a custom chars-per-token ratio.
func NewCounterWithRatio(charsPerToken float64) *Counter {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Counter{charsPerToken: charsPerToken}
}

// Count estimates the tokens in s. Never returns 0 for non-empty input.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	n := int(float64(runes) / c.charsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// Truncate returns a prefix of s estimated at no more than maxTokens tokens,
// cut on a rune boundary and trimmed to the last whitespace when one exists
// in the final quarter of the cut. Returns s unchanged when it already fits.
func (c *Counter) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if c.Count(s) <= maxTokens {
		return s
	}

	maxRunes := int(float64(maxTokens) * c.charsPerToken)
	runes := []rune(s)
	if maxRunes >= len(runes) {
		return s
	}
	cut := string(runes[:maxRunes])

	// Prefer breaking at whitespace when the break point is reasonably close.
	if idx := strings.LastIndexFunc(cut, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }); idx > maxRunes*3/4 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t")
}
