package graph

import (
	"sort"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of a conversation graph, suitable for
// persistence through a GraphStore. Nodes are ordered by sequence number.
type Snapshot struct {
	ConversationID string           `json:"conversation_id"`
	Config         ResolutionConfig `json:"config"`
	Nodes          []*MessageNode   `json:"nodes"`
	Communities    []*Community     `json:"communities,omitempty"`
	TipID          string           `json:"tip_id"`
	Version        uint64           `json:"version"`
}

// Snapshot returns a deep copy of the graph state.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*MessageNode, len(g.bySeq))
	for i, n := range g.bySeq {
		nodes[i] = n.clone()
	}
	communities := make([]*Community, 0, len(g.communities))
	for _, c := range g.communities {
		communities = append(communities, c.clone())
	}
	sort.Slice(communities, func(i, j int) bool { return communities[i].ID < communities[j].ID })

	return &Snapshot{
		ConversationID: g.conversationID,
		Config:         g.config,
		Nodes:          nodes,
		Communities:    communities,
		TipID:          g.tipID,
		Version:        g.version,
	}
}

// FromSnapshot rebuilds a graph from a persisted snapshot. queue may be nil.
func FromSnapshot(snap *Snapshot, queue SummaryQueue, logger *zap.Logger) (*Graph, error) {
	g, err := New(snap.ConversationID, snap.Config, queue, logger)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range snap.Nodes {
		node := n.clone()
		g.nodes[node.ID] = node
		g.bySeq = append(g.bySeq, node)
		for _, taskID := range node.TaskIDs {
			g.byTask[taskID] = append(g.byTask[taskID], node.ID)
		}
	}
	sort.Slice(g.bySeq, func(i, j int) bool { return g.bySeq[i].Seq < g.bySeq[j].Seq })
	for _, c := range snap.Communities {
		g.communities[c.ID] = c.clone()
	}
	g.tipID = snap.TipID
	g.version = snap.Version
	return g, nil
}
