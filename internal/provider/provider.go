// Package provider defines the external collaborator contracts the kernel
// consumes: text condensation, embeddings, and retrieval. Implementations
// live outside the core; the kernel only depends on these interfaces.
package provider

import (
	"context"
	"errors"
)

// Collaborator failure taxonomy. All three are recoverable: callers retry
// or degrade, they never surface these as data loss.
var (
	// ErrUnavailable indicates the collaborator could not be reached.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRateLimited indicates the collaborator rejected the call due to
	// rate limiting.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("provider timeout")
)

// IsRetryable reports whether err is a transient collaborator failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}

// TextCondenser condenses text down to roughly targetTokens tokens.
// Used by the summarization pipeline for node summaries and titles.
type TextCondenser interface {
	Condense(ctx context.Context, text string, targetTokens int) (string, error)
}

// EmbeddingProvider generates embedding vectors for text.
// Optional: components that accept one must behave correctly with nil.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Candidate is a single scored retrieval result.
type Candidate struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrievalEngine performs scored search over indexed content. The adaptive
// gate consumes its output; it never calls the engine directly.
type RetrievalEngine interface {
	Search(ctx context.Context, query string, k int) ([]Candidate, error)
}
