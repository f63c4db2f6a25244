package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/tokens"
)

// ErrNotFound indicates a referenced node or community is absent.
var ErrNotFound = errors.New("not found")

// SummaryQueue receives condensation work discovered during insertion.
// Enqueue calls must not block; a false return means the job was not
// accepted (queue full or budget exhausted) and the node stays eligible
// for a later attempt.
type SummaryQueue interface {
	EnqueueSummary(conversationID, nodeID string) bool
	EnqueueTitle(conversationID, nodeID string) bool
	EnqueueCommunity(conversationID, communityID string) bool
}

// Graph holds the message nodes of one conversation. It is single-writer:
// all mutation goes through its mutex, and separate conversations share
// nothing mutable.
type Graph struct {
	conversationID string
	config         ResolutionConfig
	counter        *tokens.Counter
	queue          SummaryQueue
	logger         *zap.Logger

	mu          sync.RWMutex
	nodes       map[string]*MessageNode
	bySeq       []*MessageNode
	communities map[string]*Community
	byTask      map[string][]string
	tipID       string
	version     uint64
}

// New creates an empty conversation graph. queue may be nil, in which case
// no summarization work is scheduled.
func New(conversationID string, cfg ResolutionConfig, queue SummaryQueue, logger *zap.Logger) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		conversationID: conversationID,
		config:         cfg,
		counter:        tokens.NewCounter(),
		queue:          queue,
		logger:         logger.Named("graph"),
		nodes:          make(map[string]*MessageNode),
		communities:    make(map[string]*Community),
		byTask:         make(map[string][]string),
	}, nil
}

// ConversationID returns the id this graph was created with.
func (g *Graph) ConversationID() string { return g.conversationID }

// Config returns the immutable resolution configuration.
func (g *Graph) Config() ResolutionConfig { return g.config }

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bySeq)
}

// TipID returns the id of the most recently inserted node, or "".
func (g *Graph) TipID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tipID
}

// Version returns a counter incremented on every content-affecting
// mutation. Used to key compiled-window caches.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// AddNode creates a node for a new turn and links it under parentID, or
// under the current tip when parentID is empty. Returns ErrNotFound when
// parentID names an absent node. Insertion also marks ancestors that have
// drifted past the resolution thresholds as condensation candidates; that
// scheduling never blocks the caller.
func (g *Graph) AddNode(role Role, content string, parentID string, taskIDs []string) (*MessageNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if parentID != "" {
		if _, ok := g.nodes[parentID]; !ok {
			return nil, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
		}
	} else {
		parentID = g.tipID
	}

	node := &MessageNode{
		ID:             uuid.NewString(),
		Seq:            len(g.bySeq) + 1,
		Role:           role,
		Content:        content,
		ContentTokens:  g.counter.Count(content),
		TaskIDs:        append([]string(nil), taskIDs...),
		Importance:     1.0,
		CreatedAt:      time.Now().UTC(),
		ParentID:       parentID,
		ContentVersion: 1,
		SummaryState:   SummaryNone,
		TitleState:     SummaryNone,
	}

	g.nodes[node.ID] = node
	g.bySeq = append(g.bySeq, node)
	g.tipID = node.ID
	g.version++

	for _, taskID := range taskIDs {
		g.addToTaskLocked(taskID, node)
	}
	g.scheduleStaleAncestorsLocked(node)

	g.logger.Debug("node added",
		zap.String("conversation_id", g.conversationID),
		zap.String("node_id", node.ID),
		zap.Int("seq", node.Seq),
		zap.String("role", string(role)))

	return node.clone(), nil
}

// GetNode returns a copy of the node with the given id.
func (g *Graph) GetNode(id string) (*MessageNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
	}
	return node.clone(), nil
}

// AncestorChain returns the chain from the root to the given node,
// inclusive, as copies.
func (g *Graph) AncestorChain(nodeID string) ([]*MessageNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ancestorChainLocked(nodeID)
}

func (g *Graph) ancestorChainLocked(nodeID string) ([]*MessageNode, error) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", nodeID, ErrNotFound)
	}

	var reversed []*MessageNode
	seen := make(map[string]bool)
	for node != nil {
		if seen[node.ID] {
			return nil, fmt.Errorf("cycle at node %q", node.ID)
		}
		seen[node.ID] = true
		reversed = append(reversed, node.clone())
		if node.ParentID == "" {
			break
		}
		node = g.nodes[node.ParentID]
	}

	chain := make([]*MessageNode, len(reversed))
	for i, n := range reversed {
		chain[len(reversed)-1-i] = n
	}
	return chain, nil
}

// Distance returns the number of turns between a node and the current
// position: the absolute difference of creation sequence numbers.
func (g *Graph) Distance(nodeID, currentID string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.nodes[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %q: %w", nodeID, ErrNotFound)
	}
	b, ok := g.nodes[currentID]
	if !ok {
		return 0, fmt.Errorf("node %q: %w", currentID, ErrNotFound)
	}
	d := a.Seq - b.Seq
	if d < 0 {
		d = -d
	}
	return d, nil
}

// SetImportance overrides a node's downgrade weight, clamped to [0, 1].
// Importance feeds the compiler's victim ordering, so the graph version
// advances to invalidate cached windows.
func (g *Graph) SetImportance(nodeID string, importance float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %q: %w", nodeID, ErrNotFound)
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	node.Importance = importance
	g.version++
	return nil
}

// Touch records compiler access to the given nodes. Access bookkeeping does
// not bump the graph version: it never changes rendered output.
func (g *Graph) Touch(nodeIDs []string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range nodeIDs {
		if node, ok := g.nodes[id]; ok {
			node.AccessCount++
			node.LastAccess = at
		}
	}
}

// addToTaskLocked registers node membership for taskID and manages the
// community lifecycle: creation at MinNodesForCommunity members, summary
// regeneration on material growth.
func (g *Graph) addToTaskLocked(taskID string, node *MessageNode) {
	g.byTask[taskID] = append(g.byTask[taskID], node.ID)
	members := g.byTask[taskID]

	var community *Community
	for _, c := range g.communities {
		if c.TaskID == taskID {
			community = c
			break
		}
	}

	if community == nil {
		if len(members) < g.config.MinNodesForCommunity {
			return
		}
		community = &Community{
			ID:           uuid.NewString(),
			Name:         "task:" + taskID,
			TaskID:       taskID,
			Members:      append([]string(nil), members...),
			SummaryState: SummaryNone,
		}
		g.communities[community.ID] = community
		for _, id := range members {
			if m, ok := g.nodes[id]; ok {
				m.CommunityID = community.ID
			}
		}
		g.version++
		g.logger.Debug("community created",
			zap.String("conversation_id", g.conversationID),
			zap.String("community_id", community.ID),
			zap.String("task_id", taskID),
			zap.Int("members", len(members)))
	} else {
		community.Members = append(community.Members, node.ID)
		node.CommunityID = community.ID
		g.version++
	}

	if g.queue == nil {
		return
	}
	grown := len(community.Members) - community.MembersAtLastSummary
	threshold := int(float64(community.MembersAtLastSummary) * g.config.CommunityRegenGrowth)
	if threshold < 1 {
		threshold = 1
	}
	if community.SummaryState != SummaryPending && grown >= threshold {
		if g.queue.EnqueueCommunity(g.conversationID, community.ID) {
			community.SummaryState = SummaryPending
		}
	}
}

// scheduleStaleAncestorsLocked enqueues condensation for ancestors of the
// new node that now sit past the full-context or summary distances and have
// no representation yet.
func (g *Graph) scheduleStaleAncestorsLocked(node *MessageNode) {
	if g.queue == nil {
		return
	}
	ancestor := node
	for ancestor.ParentID != "" {
		parent, ok := g.nodes[ancestor.ParentID]
		if !ok {
			return
		}
		ancestor = parent
		d := node.Seq - ancestor.Seq
		if d < g.config.FullContextDistance {
			continue
		}
		if d >= g.config.SummaryDistance && ancestor.SummaryState != SummaryNone && ancestor.TitleState != SummaryNone {
			// Everything older was already scheduled by earlier insertions.
			return
		}
		if ancestor.SummaryState == SummaryNone {
			if g.queue.EnqueueSummary(g.conversationID, ancestor.ID) {
				ancestor.SummaryState = SummaryPending
			}
		}
		if d >= g.config.SummaryDistance && ancestor.TitleState == SummaryNone {
			if g.queue.EnqueueTitle(g.conversationID, ancestor.ID) {
				ancestor.TitleState = SummaryPending
			}
		}
	}
}
