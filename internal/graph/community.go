package graph

// Community is a named grouping of nodes that share a task id. It holds a
// weak back-reference to its members by id; node lifetimes belong to the
// graph alone.
type Community struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	TaskID  string   `json:"task_id,omitempty"`
	Members []string `json:"members"`

	// Summary is the aggregate summary over member content, regenerated
	// when membership changes materially.
	Summary      string       `json:"summary,omitempty"`
	SummaryState SummaryState `json:"summary_state"`

	// MembersAtLastSummary records the size of the community when its
	// summary was last generated, driving regeneration.
	MembersAtLastSummary int `json:"members_at_last_summary"`
}

// Contains reports whether nodeID is a member.
func (c *Community) Contains(nodeID string) bool {
	for _, id := range c.Members {
		if id == nodeID {
			return true
		}
	}
	return false
}

func (c *Community) clone() *Community {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	return &cp
}
