// Package graph implements the conversation graph: message nodes, their
// parent links, communities, and the distance bookkeeping the compiler
// reads. The graph is single-writer per conversation; concurrent
// conversations share no mutable state.
package graph

import (
	"time"
)

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SummaryState tracks the lifecycle of a condensed representation.
type SummaryState string

const (
	// SummaryNone means no condensation has been requested yet.
	SummaryNone SummaryState = "none"
	// SummaryPending means the node is queued or in flight.
	SummaryPending SummaryState = "pending"
	// SummaryReady means the representation is attached and current.
	SummaryReady SummaryState = "ready"
	// SummaryFailed means condensation exhausted its retries. The compiler
	// falls back to a truncated excerpt of the full content.
	SummaryFailed SummaryState = "failed"
)

// MessageNode is a single conversational turn. Full content is never
// deleted; summary and title are monotonic refinements added alongside it.
type MessageNode struct {
	ID  string `json:"id"`
	Seq int    `json:"seq"`

	Role    Role   `json:"role"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
	Title   string `json:"title,omitempty"`

	ContentTokens int `json:"content_tokens"`
	SummaryTokens int `json:"summary_tokens,omitempty"`
	TitleTokens   int `json:"title_tokens,omitempty"`

	TaskIDs     []string `json:"task_ids,omitempty"`
	CommunityID string   `json:"community_id,omitempty"`

	// Importance in [0,1], default 1.0. Lower-importance nodes are
	// downgraded first when the compiler trims to budget.
	Importance float64 `json:"importance"`

	AccessCount int64     `json:"access_count"`
	LastAccess  time.Time `json:"last_access"`
	CreatedAt   time.Time `json:"created_at"`

	ParentID string `json:"parent_id,omitempty"`

	// ContentVersion guards idempotent summary attachment: a summary
	// generated for an older content version is discarded.
	ContentVersion int          `json:"content_version"`
	SummaryState   SummaryState `json:"summary_state"`
	TitleState     SummaryState `json:"title_state"`
}

// HasTask reports whether the node is associated with taskID.
func (n *MessageNode) HasTask(taskID string) bool {
	for _, t := range n.TaskIDs {
		if t == taskID {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand outside the graph lock.
func (n *MessageNode) clone() *MessageNode {
	cp := *n
	if n.TaskIDs != nil {
		cp.TaskIDs = append([]string(nil), n.TaskIDs...)
	}
	return &cp
}
