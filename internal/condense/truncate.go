package condense

import (
	"context"

	"github.com/adaptive-context-kernel/internal/tokens"
)

// Truncating is a local TextCondenser that clips text to the target token
// count. It produces excerpts rather than real summaries; deployments
// without a condensation service fall back to it.
type Truncating struct {
	counter *tokens.Counter
}

// NewTruncating creates the fallback condenser.
func NewTruncating() *Truncating {
	return &Truncating{counter: tokens.NewCounter()}
}

// Condense implements provider.TextCondenser.
func (t *Truncating) Condense(_ context.Context, text string, targetTokens int) (string, error) {
	return t.counter.Truncate(text, targetTokens), nil
}
