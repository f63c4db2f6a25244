package compile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/tokens"
)

// ErrInvalidBudget indicates a non-positive token budget.
var ErrInvalidBudget = errors.New("max tokens must be positive")

// Compiler assembles token-bounded context windows from a conversation
// graph. Compilation is synchronous, never waits on the summarization
// pipeline, and is deterministic for a fixed graph snapshot.
type Compiler struct {
	graph   *graph.Graph
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates a compiler over g.
func New(g *graph.Graph, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{
		graph:   g,
		counter: tokens.NewCounter(),
		logger:  logger.Named("compiler"),
	}
}

// entry pairs a window entry with the ordering metadata the budget loop
// needs.
type entry struct {
	Entry
	importance float64
	node       *graph.MessageNode
}

// Compile walks the ancestor chain of currentNodeID, selects a resolution
// level per node by distance, and trims to maxTokens by downgrading the
// farthest (and, when adaptation is enabled, least important) entries
// first. The current node is always included at FULL resolution; when even
// it alone overflows the budget it is truncated in place and the window is
// flagged BudgetExceeded.
func (c *Compiler) Compile(currentNodeID string, maxTokens int) (*ContextWindow, error) {
	if maxTokens <= 0 {
		return nil, ErrInvalidBudget
	}
	chain, err := c.graph.AncestorChain(currentNodeID)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	cfg := c.graph.Config()
	current := chain[len(chain)-1]

	if current.ContentTokens > maxTokens {
		text := c.counter.Truncate(current.Content, maxTokens)
		window := &ContextWindow{
			ConversationID: c.graph.ConversationID(),
			CurrentNodeID:  currentNodeID,
			Entries: []Entry{{
				NodeID:     current.ID,
				Seq:        current.Seq,
				Role:       string(current.Role),
				Resolution: ResolutionFull,
				Text:       text,
				Tokens:     c.counter.Count(text),
			}},
			BudgetExceeded: true,
		}
		window.TotalTokens = window.Entries[0].Tokens
		c.graph.Touch([]string{current.ID}, time.Now().UTC())
		c.logger.Warn("budget exceeded by current node alone",
			zap.String("node_id", currentNodeID),
			zap.Int("content_tokens", current.ContentTokens),
			zap.Int("max_tokens", maxTokens))
		return window, nil
	}

	var items []*entry
	included := make(map[string]bool)
	for _, node := range chain[:len(chain)-1] {
		d := distance(current, node)
		level := levelFor(d, cfg)
		if level == ResolutionHidden {
			continue
		}
		items = append(items, c.renderNode(node, level, cfg))
		included[node.ID] = true
	}
	items = append(items, c.renderNode(current, ResolutionFull, cfg))
	included[current.ID] = true

	items = append(c.communityEntries(current, included, cfg), items...)

	c.fitToBudget(&items, maxTokens, current.ID)

	window := &ContextWindow{
		ConversationID: c.graph.ConversationID(),
		CurrentNodeID:  currentNodeID,
	}
	touched := make([]string, 0, len(items))
	for _, it := range items {
		window.Entries = append(window.Entries, it.Entry)
		window.TotalTokens += it.Tokens
		if it.NodeID != "" {
			touched = append(touched, it.NodeID)
		}
	}
	c.graph.Touch(touched, time.Now().UTC())

	c.logger.Debug("window compiled",
		zap.String("conversation_id", c.graph.ConversationID()),
		zap.String("current_node_id", currentNodeID),
		zap.Int("entries", len(window.Entries)),
		zap.Int("total_tokens", window.TotalTokens),
		zap.Int("max_tokens", maxTokens))
	return window, nil
}

func distance(current, node *graph.MessageNode) int {
	d := current.Seq - node.Seq
	if d < 0 {
		d = -d
	}
	return d
}

// levelFor maps a distance onto a resolution level. Thresholds are strict:
// a node exactly at full_context_distance already renders as SUMMARY.
func levelFor(d int, cfg graph.ResolutionConfig) Resolution {
	switch {
	case d < cfg.FullContextDistance:
		return ResolutionFull
	case d < cfg.SummaryDistance:
		return ResolutionSummary
	case d < cfg.TitleDistance:
		return ResolutionTitle
	default:
		return ResolutionHidden
	}
}

// renderNode renders a node at the given level. A missing summary or title
// falls back to a truncated excerpt of the full content sized to the
// representation's cap; a node is never omitted for lacking a condensed
// form.
func (c *Compiler) renderNode(node *graph.MessageNode, level Resolution, cfg graph.ResolutionConfig) *entry {
	var text string
	var count int
	switch level {
	case ResolutionFull:
		text, count = node.Content, node.ContentTokens
	case ResolutionSummary:
		if node.SummaryState == graph.SummaryReady && node.Summary != "" {
			text, count = node.Summary, node.SummaryTokens
		} else {
			text = c.counter.Truncate(node.Content, cfg.MaxSummaryTokens)
			count = c.counter.Count(text)
		}
	case ResolutionTitle:
		if node.TitleState == graph.SummaryReady && node.Title != "" {
			text, count = node.Title, node.TitleTokens
		} else {
			text = c.counter.Truncate(node.Content, cfg.MaxTitleTokens)
			count = c.counter.Count(text)
		}
	}
	return &entry{
		Entry: Entry{
			NodeID:     node.ID,
			Seq:        node.Seq,
			Role:       string(node.Role),
			Resolution: level,
			Text:       text,
			Tokens:     count,
		},
		importance: node.Importance,
		node:       node,
	}
}

// communityEntries represents communities whose members are all
// individually excluded, provided at least one member lies within the
// community inclusion distance. Ordered by community id for determinism.
func (c *Compiler) communityEntries(current *graph.MessageNode, included map[string]bool, cfg graph.ResolutionConfig) []*entry {
	communities := c.graph.Communities()
	sort.Slice(communities, func(i, j int) bool { return communities[i].ID < communities[j].ID })

	var out []*entry
	for _, community := range communities {
		represented := false
		inRange := false
		for _, memberID := range community.Members {
			if included[memberID] {
				represented = true
				break
			}
			member, err := c.graph.GetNode(memberID)
			if err != nil {
				continue
			}
			if distance(current, member) < cfg.CommunityInclusionDistance {
				inRange = true
			}
		}
		if represented || !inRange {
			continue
		}

		text := community.Summary
		if community.SummaryState != graph.SummaryReady || text == "" {
			raw, ok := c.graph.CommunityInput(community.ID)
			if !ok {
				continue
			}
			text = c.counter.Truncate(raw, cfg.MaxSummaryTokens)
		}
		out = append(out, &entry{
			Entry: Entry{
				CommunityID: community.ID,
				Resolution:  ResolutionSummary,
				Text:        text,
				Tokens:      c.counter.Count(text),
			},
			importance: 0,
		})
	}
	return out
}

// fitToBudget downgrades entries one step at a time until the window fits.
// Victim order: community entries, then nodes by ascending importance when
// adaptation is enabled, farthest first within equal importance. The
// current node is never a victim.
func (c *Compiler) fitToBudget(items *[]*entry, maxTokens int, currentID string) {
	cfg := c.graph.Config()
	total := func() int {
		t := 0
		for _, it := range *items {
			t += it.Tokens
		}
		return t
	}

	for total() > maxTokens {
		victim := c.pickVictim(*items, currentID, cfg.AdaptationEnabled)
		if victim < 0 {
			return
		}
		it := (*items)[victim]
		switch {
		case it.CommunityID != "" || it.Resolution == ResolutionTitle:
			*items = append((*items)[:victim], (*items)[victim+1:]...)
		case it.Resolution == ResolutionFull:
			(*items)[victim] = c.renderNode(it.node, ResolutionSummary, cfg)
		case it.Resolution == ResolutionSummary:
			(*items)[victim] = c.renderNode(it.node, ResolutionTitle, cfg)
		}
	}
}

// pickVictim returns the index of the next entry to downgrade, or -1 when
// only the current node remains.
func (c *Compiler) pickVictim(items []*entry, currentID string, byImportance bool) int {
	best := -1
	for i, it := range items {
		if it.NodeID == currentID {
			continue
		}
		if it.CommunityID != "" {
			// Communities go first; the lowest id wins deterministically.
			if best < 0 || items[best].CommunityID == "" || it.CommunityID < items[best].CommunityID {
				best = i
			}
			continue
		}
		if best >= 0 && items[best].CommunityID != "" {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := items[best]
		if byImportance && it.importance != b.importance {
			if it.importance < b.importance {
				best = i
			}
			continue
		}
		if it.Seq < b.Seq {
			best = i
		}
	}
	return best
}
