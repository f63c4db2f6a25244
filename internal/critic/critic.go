// Package critic evaluates compiled context windows against the query they
// will serve. The analysis is pluggable: the shipped HeuristicCritic works
// from term overlap, and an external-call-backed critic can be swapped in
// behind the same interface.
package critic

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/compile"
)

// Critic scores a compiled context against a query and reports blindspots
// and unnecessary chunks.
type Critic interface {
	Critique(ctx context.Context, query string, window *compile.ContextWindow) (*compile.Critique, error)
}

// HeuristicCritic is a cheap term-overlap critic. It flags query terms with
// no support anywhere in the window as blindspots and entries sharing no
// term with the query as unnecessary.
type HeuristicCritic struct {
	logger *zap.Logger
}

// NewHeuristic creates a heuristic critic.
func NewHeuristic(logger *zap.Logger) *HeuristicCritic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicCritic{logger: logger.Named("critic")}
}

// Critique implements Critic.
func (h *HeuristicCritic) Critique(_ context.Context, query string, window *compile.ContextWindow) (*compile.Critique, error) {
	terms := significantTerms(query)
	critique := &compile.Critique{}

	if len(terms) == 0 || len(window.Entries) == 0 {
		critique.QualityScore = 0.5
		return critique, nil
	}

	covered := make(map[string]bool, len(terms))
	for _, e := range window.Entries {
		lower := strings.ToLower(e.Text)
		hit := false
		for _, t := range terms {
			if strings.Contains(lower, t) {
				covered[t] = true
				hit = true
			}
		}
		// The current node is always mandatory content, never noise.
		if !hit && e.NodeID != window.CurrentNodeID {
			id := e.NodeID
			if id == "" {
				id = e.CommunityID
			}
			critique.UnnecessaryChunkIDs = append(critique.UnnecessaryChunkIDs, id)
		}
	}

	for _, t := range terms {
		if !covered[t] {
			critique.Blindspots = append(critique.Blindspots, t)
		}
	}

	coverage := float64(len(covered)) / float64(len(terms))
	noise := float64(len(critique.UnnecessaryChunkIDs)) / float64(len(window.Entries))
	critique.QualityScore = clamp01(coverage * (1 - 0.5*noise))

	h.logger.Debug("window critiqued",
		zap.Int("terms", len(terms)),
		zap.Int("blindspots", len(critique.Blindspots)),
		zap.Int("unnecessary", len(critique.UnnecessaryChunkIDs)),
		zap.Float64("quality", critique.QualityScore))
	return critique, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// stopwords excluded from blindspot analysis.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true,
	"what": true, "how": true, "where": true, "when": true, "does": true,
	"can": true, "you": true, "not": true, "all": true, "use": true,
}

// significantTerms extracts lowercase query terms worth tracking:
// at least three characters and not a stopword.
func significantTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '/'
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
