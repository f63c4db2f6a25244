// Package compile turns a conversation graph into a token-bounded context
// window: per-node resolution selection by distance, budget-driven
// downgrades, and fallback rendering when condensed representations are
// missing.
package compile

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Resolution is the degree of detail at which a node is rendered.
type Resolution string

const (
	ResolutionFull    Resolution = "full"
	ResolutionSummary Resolution = "summary"
	ResolutionTitle   Resolution = "title"
	ResolutionHidden  Resolution = "hidden"
)

// Entry is one rendered item of a context window: a node at some
// resolution, or a community represented by its aggregate summary.
type Entry struct {
	NodeID      string     `json:"node_id,omitempty"`
	CommunityID string     `json:"community_id,omitempty"`
	Seq         int        `json:"seq,omitempty"`
	Role        string     `json:"role,omitempty"`
	Resolution  Resolution `json:"resolution"`
	Text        string     `json:"text"`
	Tokens      int        `json:"tokens"`
}

// Critique is the quality assessment a critic attaches to a window.
type Critique struct {
	QualityScore        float64  `json:"quality_score"`
	Blindspots          []string `json:"blindspots,omitempty"`
	UnnecessaryChunkIDs []string `json:"unnecessary_chunk_ids,omitempty"`
}

// ContextWindow is the immutable output of one compilation call. It is
// created per call and never persisted as part of the graph.
type ContextWindow struct {
	ConversationID string    `json:"conversation_id"`
	CurrentNodeID  string    `json:"current_node_id"`
	Entries        []Entry   `json:"entries"`
	TotalTokens    int       `json:"total_tokens"`
	BudgetExceeded bool      `json:"budget_exceeded"`
	Critique       *Critique `json:"critique,omitempty"`
}

// Render produces the deterministic textual form of the window. The same
// window always renders to byte-identical output.
func (w *ContextWindow) Render() []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, e := range w.Entries {
		buf.WriteByte('[')
		if e.CommunityID != "" {
			buf.WriteString("community ")
			buf.WriteString(e.CommunityID)
		} else {
			buf.WriteByte('#')
			buf.WriteString(strconv.Itoa(e.Seq))
			buf.WriteByte(' ')
			buf.WriteString(e.Role)
		}
		buf.WriteByte(' ')
		buf.WriteString(string(e.Resolution))
		buf.WriteString("] ")
		buf.WriteString(e.Text)
		buf.WriteByte('\n')
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
