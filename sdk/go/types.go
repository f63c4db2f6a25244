package ack

import "time"

// AddTurnRequest appends one message to a conversation. Importance above
// zero overrides the node's default downgrade weight of 1 (clamped to
// [0, 1]).
type AddTurnRequest struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	ParentID   string   `json:"parent_id,omitempty"`
	TaskIDs    []string `json:"task_ids,omitempty"`
	Importance float64  `json:"importance,omitempty"`
}

// MessageNode is the stored form of a turn.
type MessageNode struct {
	ID            string   `json:"id"`
	Seq           int      `json:"seq"`
	ParentID      string   `json:"parent_id,omitempty"`
	Role          string   `json:"role"`
	Content       string   `json:"content"`
	Summary       string   `json:"summary,omitempty"`
	Title         string   `json:"title,omitempty"`
	ContentTokens int      `json:"content_tokens"`
	SummaryTokens int      `json:"summary_tokens,omitempty"`
	TitleTokens   int      `json:"title_tokens,omitempty"`
	TaskIDs       []string `json:"task_ids,omitempty"`
	CommunityID   string   `json:"community_id,omitempty"`
	Importance    float64  `json:"importance"`
	SummaryState  string   `json:"summary_state"`
	TitleState    string   `json:"title_state"`
}

// CompileRequest parameterizes window compilation.
type CompileRequest struct {
	CurrentNodeID string `json:"current_node_id"`
	MaxTokens     int    `json:"max_tokens"`
	Rendered      bool   `json:"rendered,omitempty"`
}

// CritiqueRequest parameterizes a critiqued compilation.
type CritiqueRequest struct {
	CurrentNodeID string `json:"current_node_id"`
	Query         string `json:"query"`
	MaxTokens     int    `json:"max_tokens"`
}

// WindowEntry is one rendered item of a context window.
type WindowEntry struct {
	NodeID      string `json:"node_id,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
	Seq         int    `json:"seq,omitempty"`
	Role        string `json:"role,omitempty"`
	Resolution  string `json:"resolution"`
	Text        string `json:"text"`
	Tokens      int    `json:"tokens"`
}

// Critique is a window quality assessment.
type Critique struct {
	QualityScore        float64  `json:"quality_score"`
	Blindspots          []string `json:"blindspots,omitempty"`
	UnnecessaryChunkIDs []string `json:"unnecessary_chunk_ids,omitempty"`
}

// ContextWindow is the compiled context for one node.
type ContextWindow struct {
	ConversationID string        `json:"conversation_id"`
	CurrentNodeID  string        `json:"current_node_id"`
	Entries        []WindowEntry `json:"entries"`
	TotalTokens    int           `json:"total_tokens"`
	BudgetExceeded bool          `json:"budget_exceeded"`
	Critique       *Critique     `json:"critique,omitempty"`
}

// GateRequest parameterizes the adaptive gate.
type GateRequest struct {
	ProjectID     string `json:"project_id"`
	RetrievalType string `json:"retrieval_type"`
	TargetChunks  int    `json:"target_chunks"`
	MinChunks     int    `json:"min_chunks"`
	MaxChunks     int    `json:"max_chunks"`
}

// Candidate is one scored retrieval result.
type Candidate struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrieveRequest searches an index and gates the results.
type RetrieveRequest struct {
	Query  string      `json:"query"`
	FetchK int         `json:"fetch_k,omitempty"`
	Gate   GateRequest `json:"gate"`
}

// FilterRequest gates externally produced candidates.
type FilterRequest struct {
	Candidates []Candidate `json:"candidates"`
	Gate       GateRequest `json:"gate"`
}

// Feedback reports retrieval quality for one returned chunk set.
type Feedback struct {
	ChunkIDs       []string        `json:"chunk_ids"`
	Useful         map[string]bool `json:"useful,omitempty"`
	MissingContext string          `json:"missing_context,omitempty"`
	UnnecessaryIDs []string        `json:"unnecessary_ids,omitempty"`
}

// FeedbackRequest applies feedback to a gating profile.
type FeedbackRequest struct {
	ProjectID     string   `json:"project_id"`
	RetrievalType string   `json:"retrieval_type"`
	Feedback      Feedback `json:"feedback"`
}

// GateProfile is the adaptive state of one (project, retrieval-type) pair.
type GateProfile struct {
	ProjectID     string    `json:"project_id"`
	RetrievalType string    `json:"retrieval_type"`
	Scores        []float64 `json:"scores"`
	Current       float64   `json:"current_threshold"`
	Base          float64   `json:"base_threshold"`
	Min           float64   `json:"min_threshold"`
	Max           float64   `json:"max_threshold"`
	TargetChunks  int       `json:"target_chunks"`
	Rate          float64   `json:"adaptation_rate"`
	Method        string    `json:"method"`
	K             float64   `json:"k"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type chunksResponse struct {
	Chunks []Candidate `json:"chunks"`
}
