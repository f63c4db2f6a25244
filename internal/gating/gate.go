package gating

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/provider"
)

// FilterRequest parameterizes one gate invocation.
type FilterRequest struct {
	ProjectID     string `json:"project_id"`
	RetrievalType string `json:"retrieval_type"`
	TargetChunks  int    `json:"target_chunks"`
	MinChunks     int    `json:"min_chunks"`
	MaxChunks     int    `json:"max_chunks"`
}

// Gate filters scored retrieval candidates through the adaptive threshold
// of the matching profile.
type Gate struct {
	store  *Store
	logger *zap.Logger
}

// NewGate creates a gate over the given profile store.
func NewGate(store *Store, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, logger: logger.Named("gate")}
}

// Filter returns the useful subset of candidates, sorted by descending
// score. Every candidate's score is recorded into the profile's rolling
// window regardless of the accept/reject outcome.
func (g *Gate) Filter(ctx context.Context, candidates []provider.Candidate, req FilterRequest) ([]provider.Candidate, error) {
	if req.MinChunks > req.MaxChunks {
		return nil, fmt.Errorf("%w: min_chunks %d > max_chunks %d", ErrInvalidInput, req.MinChunks, req.MaxChunks)
	}
	if req.MaxChunks <= 0 {
		return nil, fmt.Errorf("%w: max_chunks must be positive", ErrInvalidInput)
	}
	if req.MinChunks < 0 {
		return nil, fmt.Errorf("%w: min_chunks must be non-negative", ErrInvalidInput)
	}

	sorted := make([]provider.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var accepted []provider.Candidate
	var cutoff float64
	err := g.store.Update(ctx, req.ProjectID, req.RetrievalType, func(p *Profile) {
		cutoff = g.resolveCutoff(p, sorted, req)
		accepted = apply(sorted, cutoff, req.MinChunks, req.MaxChunks)
		for _, c := range sorted {
			p.Window.Push(c.Score)
		}
	})
	if err != nil {
		return nil, err
	}

	g.logger.Debug("candidates filtered",
		zap.String("project_id", req.ProjectID),
		zap.String("retrieval_type", req.RetrievalType),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(accepted)),
		zap.Float64("cutoff", cutoff))
	return accepted, nil
}

// resolveCutoff fuses the robust statistical cutoff with the profile's
// adaptive threshold. Below minSamplesForAdaptation window entries the
// base threshold is used unconditionally: there is not enough data to
// adapt. Otherwise, the stricter of the two wins when the looser one
// passes more than target_chunks candidates, the looser wins when the
// stricter would starve min_chunks, and the statistical estimate wins in
// between.
func (g *Gate) resolveCutoff(p *Profile, sorted []provider.Candidate, req FilterRequest) float64 {
	scores := p.Window.Snapshot()
	if len(scores) < minSamplesForAdaptation {
		return p.BaseThreshold
	}

	stat := p.StatCutoff(scores)
	current := p.CurrentThreshold
	loose, strict := stat, current
	if loose > strict {
		loose, strict = strict, loose
	}

	target := req.TargetChunks
	if target <= 0 {
		target = p.TargetChunks
	}

	switch {
	case countAtOrAbove(sorted, loose) > target:
		return strict
	case countAtOrAbove(sorted, strict) < req.MinChunks:
		return loose
	default:
		return stat
	}
}

// apply accepts contiguous candidates from the top until the cutoff is
// crossed or maxChunks is reached, then tops up to minChunks when
// candidates exist at all.
func apply(sorted []provider.Candidate, cutoff float64, minChunks, maxChunks int) []provider.Candidate {
	var out []provider.Candidate
	for _, c := range sorted {
		if len(out) >= maxChunks {
			break
		}
		if c.Score < cutoff {
			break
		}
		out = append(out, c)
	}
	for len(out) < minChunks && len(out) < len(sorted) && len(out) < maxChunks {
		out = append(out, sorted[len(out)])
	}
	return out
}

func countAtOrAbove(sorted []provider.Candidate, cutoff float64) int {
	n := 0
	for _, c := range sorted {
		if c.Score >= cutoff {
			n++
		}
	}
	return n
}
