package gating

import (
	"context"

	"go.uber.org/zap"
)

// unnecessaryFraction is the share of returned chunks flagged unnecessary
// above which the threshold is raised.
const unnecessaryFraction = 0.30

// Feedback is the transient input to gate adaptation. It is consumed once:
// only its statistical effect on the profile persists.
type Feedback struct {
	// ChunkIDs are the ids of the chunks that were returned to the agent.
	ChunkIDs []string `json:"chunk_ids"`
	// Useful records per-chunk usefulness. Chunks absent from the map are
	// treated as useful.
	Useful map[string]bool `json:"useful,omitempty"`
	// MissingContext notes context the gate filtered out but was needed.
	MissingContext string `json:"missing_context,omitempty"`
	// UnnecessaryIDs explicitly flags returned chunks as noise. When set
	// it takes precedence over the Useful map.
	UnnecessaryIDs []string `json:"unnecessary_ids,omitempty"`
}

// unnecessaryCount derives how many returned chunks were noise.
func (f *Feedback) unnecessaryCount() int {
	if len(f.UnnecessaryIDs) > 0 {
		return len(f.UnnecessaryIDs)
	}
	n := 0
	for _, id := range f.ChunkIDs {
		if useful, ok := f.Useful[id]; ok && !useful {
			n++
		}
	}
	return n
}

// RecordFeedback is the single mutation path for current_threshold.
// Missing context lowers the threshold toward the floor by the profile's
// adaptation rate; a chunk set that was >30% unnecessary raises it toward
// the ceiling by the same rate. The result is always clamped to
// [min_threshold, max_threshold].
func (s *Store) RecordFeedback(ctx context.Context, projectID, retrievalType string, fb Feedback) error {
	return s.Update(ctx, projectID, retrievalType, func(p *Profile) {
		before := p.CurrentThreshold

		if fb.MissingContext != "" {
			p.CurrentThreshold = p.Clamp(p.CurrentThreshold * (1 - p.AdaptationRate))
		}
		if n := len(fb.ChunkIDs); n > 0 {
			if float64(fb.unnecessaryCount())/float64(n) > unnecessaryFraction {
				p.CurrentThreshold = p.Clamp(p.CurrentThreshold * (1 + p.AdaptationRate))
			}
		}

		if p.CurrentThreshold != before {
			s.logger.Info("threshold adapted",
				zap.String("project_id", projectID),
				zap.String("retrieval_type", retrievalType),
				zap.Float64("from", before),
				zap.Float64("to", p.CurrentThreshold),
				zap.Bool("missing_context", fb.MissingContext != ""))
		}
	})
}
