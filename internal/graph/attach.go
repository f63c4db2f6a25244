package graph

import (
	"strings"

	"go.uber.org/zap"
)

// SummaryInput returns the text to condense for a node along with the
// content version the result must be attached against.
func (g *Graph) SummaryInput(nodeID string) (text string, version int, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, found := g.nodes[nodeID]
	if !found {
		return "", 0, false
	}
	return node.Content, node.ContentVersion, true
}

// CommunityInput returns the aggregate text to condense for a community:
// member summaries where present, otherwise member content.
func (g *Graph) CommunityInput(communityID string) (text string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	community, found := g.communities[communityID]
	if !found {
		return "", false
	}
	var b strings.Builder
	for _, id := range community.Members {
		node, exists := g.nodes[id]
		if !exists {
			continue
		}
		if node.Summary != "" {
			b.WriteString(node.Summary)
		} else {
			b.WriteString(node.Content)
		}
		b.WriteByte('\n')
	}
	return b.String(), true
}

// AttachSummary attaches a generated summary to a node. Idempotent: the
// attach is a no-op unless the content version matches and no summary is
// already attached for it. Reports whether the summary was applied.
func (g *Graph) AttachSummary(nodeID, summary string, contentVersion int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[nodeID]
	if !ok || node.ContentVersion != contentVersion {
		return false
	}
	if node.SummaryState == SummaryReady {
		return false
	}
	node.Summary = summary
	node.SummaryTokens = g.counter.Count(summary)
	node.SummaryState = SummaryReady
	g.version++
	g.logger.Debug("summary attached",
		zap.String("conversation_id", g.conversationID),
		zap.String("node_id", nodeID),
		zap.Int("tokens", node.SummaryTokens))
	return true
}

// AttachTitle attaches a generated one-line title to a node, with the same
// idempotence rules as AttachSummary.
func (g *Graph) AttachTitle(nodeID, title string, contentVersion int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[nodeID]
	if !ok || node.ContentVersion != contentVersion {
		return false
	}
	if node.TitleState == SummaryReady {
		return false
	}
	node.Title = title
	node.TitleTokens = g.counter.Count(title)
	node.TitleState = SummaryReady
	g.version++
	return true
}

// AttachCommunitySummary attaches the aggregate summary of a community.
func (g *Graph) AttachCommunitySummary(communityID, summary string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	community, ok := g.communities[communityID]
	if !ok {
		return false
	}
	community.Summary = summary
	community.SummaryState = SummaryReady
	community.MembersAtLastSummary = len(community.Members)
	g.version++
	return true
}

// MarkSummaryFailed records that condensation exhausted its retries for a
// node. The node stays eligible for the compiler's truncation fallback.
func (g *Graph) MarkSummaryFailed(nodeID string, title bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[nodeID]
	if !ok {
		return
	}
	if title {
		if node.TitleState != SummaryReady {
			node.TitleState = SummaryFailed
		}
	} else {
		if node.SummaryState != SummaryReady {
			node.SummaryState = SummaryFailed
		}
	}
}

// MarkCommunitySummaryFailed records a failed aggregate summary attempt.
func (g *Graph) MarkCommunitySummaryFailed(communityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if community, ok := g.communities[communityID]; ok && community.SummaryState != SummaryReady {
		community.SummaryState = SummaryFailed
	}
}

// GetCommunity returns a copy of the community with the given id.
func (g *Graph) GetCommunity(id string) (*Community, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	community, ok := g.communities[id]
	if !ok {
		return nil, false
	}
	return community.clone(), true
}

// Communities returns copies of all communities.
func (g *Graph) Communities() []*Community {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Community, 0, len(g.communities))
	for _, c := range g.communities {
		out = append(out, c.clone())
	}
	return out
}
