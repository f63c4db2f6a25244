package kernel

import (
	"github.com/adaptive-context-kernel/internal/summarize"
)

// graphSource adapts the kernel's conversation map to the pipeline's
// Source contract. Lookups against conversations that have been ended
// report ok=false, which drops the job.
type graphSource Kernel

func (s *graphSource) kernel() *Kernel { return (*Kernel)(s) }

func (s *graphSource) SummaryInput(conversationID, nodeID string) (string, int, bool) {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return "", 0, false
	}
	return g.SummaryInput(nodeID)
}

func (s *graphSource) CommunityInput(conversationID, communityID string) (string, bool) {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return "", false
	}
	return g.CommunityInput(communityID)
}

func (s *graphSource) AttachSummary(conversationID, nodeID, summary string, version int) bool {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return false
	}
	return g.AttachSummary(nodeID, summary, version)
}

func (s *graphSource) AttachTitle(conversationID, nodeID, title string, version int) bool {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return false
	}
	return g.AttachTitle(nodeID, title, version)
}

func (s *graphSource) AttachCommunitySummary(conversationID, communityID, summary string) bool {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return false
	}
	return g.AttachCommunitySummary(communityID, summary)
}

func (s *graphSource) MarkFailed(conversationID, targetID string, kind summarize.Kind) {
	g, ok := s.kernel().graphFor(conversationID)
	if !ok {
		return
	}
	switch kind {
	case summarize.KindCommunity:
		g.MarkCommunitySummaryFailed(targetID)
	case summarize.KindTitle:
		g.MarkSummaryFailed(targetID, true)
	default:
		g.MarkSummaryFailed(targetID, false)
	}
}
