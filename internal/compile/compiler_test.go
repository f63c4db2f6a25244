package compile

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/adaptive-context-kernel/internal/graph"
)

func buildChain(t *testing.T, cfg graph.ResolutionConfig, turns int, content string) (*graph.Graph, []string) {
	t.Helper()
	g, err := graph.New("conv-c", cfg, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	ids := make([]string, 0, turns)
	for i := 0; i < turns; i++ {
		role := graph.RoleUser
		if i%2 == 1 {
			role = graph.RoleAssistant
		}
		n, err := g.AddNode(role, content, "", nil)
		if err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		ids = append(ids, n.ID)
	}
	return g, ids
}

func TestCompileResolutionByDistance(t *testing.T) {
	cfg := graph.DefaultResolutionConfig() // full<5, summary<20, title<50
	g, ids := buildChain(t, cfg, 30, "the quick brown fox jumps over the lazy dog repeatedly")
	c := New(g, zaptest.NewLogger(t))

	window, err := c.Compile(ids[29], 1_000_000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(window.Entries) != 30 {
		t.Fatalf("entries = %d, want 30", len(window.Entries))
	}

	byseq := make(map[int]Resolution)
	for _, e := range window.Entries {
		byseq[e.Seq] = e.Resolution
	}
	// Current node is seq 30. Distances 0-4 render FULL, 5-19 SUMMARY,
	// 20-29 TITLE.
	for seq := 26; seq <= 30; seq++ {
		if byseq[seq] != ResolutionFull {
			t.Errorf("seq %d resolution = %q, want full", seq, byseq[seq])
		}
	}
	for seq := 11; seq <= 25; seq++ {
		if byseq[seq] != ResolutionSummary {
			t.Errorf("seq %d resolution = %q, want summary", seq, byseq[seq])
		}
	}
	for seq := 1; seq <= 10; seq++ {
		if byseq[seq] != ResolutionTitle {
			t.Errorf("seq %d resolution = %q, want title", seq, byseq[seq])
		}
	}
}

func TestCompileHidesBeyondTitleDistance(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	cfg.FullContextDistance = 2
	cfg.SummaryDistance = 3
	cfg.TitleDistance = 4
	g, ids := buildChain(t, cfg, 10, "content")
	c := New(g, zaptest.NewLogger(t))

	window, err := c.Compile(ids[9], 1_000_000)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// Distances 0-3 visible, the remaining 6 nodes hidden.
	if len(window.Entries) != 4 {
		t.Errorf("entries = %d, want 4", len(window.Entries))
	}
}

func TestCompileInvalidBudget(t *testing.T) {
	g, ids := buildChain(t, graph.DefaultResolutionConfig(), 1, "x")
	c := New(g, zaptest.NewLogger(t))
	if _, err := c.Compile(ids[0], 0); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("err = %v, want ErrInvalidBudget", err)
	}
	if _, err := c.Compile("missing", 100); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompileCurrentNodeAloneOverflows(t *testing.T) {
	g, ids := buildChain(t, graph.DefaultResolutionConfig(), 3, strings.Repeat("many words here ", 200))
	c := New(g, zaptest.NewLogger(t))

	window, err := c.Compile(ids[2], 20)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !window.BudgetExceeded {
		t.Error("BudgetExceeded not set")
	}
	if len(window.Entries) != 1 {
		t.Fatalf("entries = %d, want only the truncated current node", len(window.Entries))
	}
	e := window.Entries[0]
	if e.NodeID != ids[2] || e.Resolution != ResolutionFull {
		t.Errorf("entry node=%q resolution=%q", e.NodeID, e.Resolution)
	}
	if e.Tokens > 20 {
		t.Errorf("truncated entry still %d tokens", e.Tokens)
	}
}

func TestCompileDowngradesFarthestFirst(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	content := strings.Repeat("sentence talking about deployment pipelines. ", 10)
	g, ids := buildChain(t, cfg, 6, content)
	c := New(g, zaptest.NewLogger(t))

	unbounded, err := c.Compile(ids[5], 1_000_000)
	if err != nil {
		t.Fatal(err)
	}

	// A budget below the all-FULL total forces downgrades.
	window, err := c.Compile(ids[5], unbounded.TotalTokens-1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if window.TotalTokens > unbounded.TotalTokens-1 {
		t.Errorf("window total %d exceeds budget %d", window.TotalTokens, unbounded.TotalTokens-1)
	}

	var current, oldest *Entry
	for i := range window.Entries {
		switch window.Entries[i].NodeID {
		case ids[5]:
			current = &window.Entries[i]
		case ids[0]:
			oldest = &window.Entries[i]
		}
	}
	if current == nil || current.Resolution != ResolutionFull {
		t.Error("current node must stay FULL under budget pressure")
	}
	if oldest != nil && oldest.Resolution == ResolutionFull {
		t.Error("oldest node not downgraded first")
	}
}

func TestCompileDowngradesLowImportanceFirst(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	content := strings.Repeat("sentence talking about deployment pipelines. ", 10)
	g, ids := buildChain(t, cfg, 6, content)
	if err := g.SetImportance(ids[2], 0.1); err != nil {
		t.Fatalf("SetImportance: %v", err)
	}
	c := New(g, zaptest.NewLogger(t))

	unbounded, err := c.Compile(ids[5], 1_000_000)
	if err != nil {
		t.Fatal(err)
	}

	window, err := c.Compile(ids[5], unbounded.TotalTokens-1)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	byID := make(map[string]Resolution)
	for _, e := range window.Entries {
		byID[e.NodeID] = e.Resolution
	}
	// The low-importance node loses detail before the farther but more
	// important ones.
	if byID[ids[2]] == ResolutionFull {
		t.Error("low-importance node not downgraded first")
	}
	if byID[ids[0]] != ResolutionFull {
		t.Errorf("farthest high-importance node = %q, want full", byID[ids[0]])
	}
	if byID[ids[5]] != ResolutionFull {
		t.Error("current node must stay FULL")
	}
}

func TestCompileFallbackExcerptWhenSummaryMissing(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	cfg.FullContextDistance = 1
	cfg.SummaryDistance = 5
	cfg.TitleDistance = 10
	content := strings.Repeat("unsummarized content keeps flowing without a break ", 20)
	g, ids := buildChain(t, cfg, 3, content)
	c := New(g, zaptest.NewLogger(t))

	window, err := c.Compile(ids[2], 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range window.Entries {
		if e.NodeID == ids[0] {
			if e.Resolution != ResolutionSummary {
				t.Fatalf("resolution = %q, want summary", e.Resolution)
			}
			if e.Text == "" {
				t.Error("missing summary must fall back to an excerpt, not drop the node")
			}
			if e.Tokens > cfg.MaxSummaryTokens {
				t.Errorf("fallback excerpt %d tokens, cap %d", e.Tokens, cfg.MaxSummaryTokens)
			}
		}
	}
}

func TestCompileUsesAttachedSummary(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	cfg.FullContextDistance = 1
	cfg.SummaryDistance = 5
	cfg.TitleDistance = 10
	g, ids := buildChain(t, cfg, 3, "raw turn content that is long enough to matter")
	node, _ := g.GetNode(ids[0])
	g.AttachSummary(ids[0], "condensed form", node.ContentVersion)
	c := New(g, zaptest.NewLogger(t))

	window, err := c.Compile(ids[2], 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range window.Entries {
		if e.NodeID == ids[0] && e.Text != "condensed form" {
			t.Errorf("summary entry text = %q, want attached summary", e.Text)
		}
	}
}

func TestCompileDeterministicRender(t *testing.T) {
	g, ids := buildChain(t, graph.DefaultResolutionConfig(), 12, "some words in a conversation turn")
	c := New(g, zaptest.NewLogger(t))

	w1, err := c.Compile(ids[11], 500)
	if err != nil {
		t.Fatal(err)
	}
	w2, err := c.Compile(ids[11], 500)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w1.Render(), w2.Render()) {
		t.Error("recompiling an unchanged graph must render byte-identical output")
	}
	if len(w1.Render()) == 0 {
		t.Error("render produced no output")
	}
}

func TestCompileCommunityEntry(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	cfg.FullContextDistance = 1
	cfg.SummaryDistance = 2
	cfg.TitleDistance = 3
	cfg.CommunityInclusionDistance = 100
	g, err := graph.New("conv-comm", cfg, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	// Three tagged turns form a community, then enough untagged turns to
	// push every member out of the visible range.
	for i := 0; i < 3; i++ {
		if _, err := g.AddNode(graph.RoleUser, "tagged member content", "", []string{"proj"}); err != nil {
			t.Fatal(err)
		}
	}
	var tip string
	for i := 0; i < 6; i++ {
		n, err := g.AddNode(graph.RoleUser, "later turn", "", nil)
		if err != nil {
			t.Fatal(err)
		}
		tip = n.ID
	}

	communities := g.Communities()
	if len(communities) != 1 {
		t.Fatalf("communities = %d, want 1", len(communities))
	}
	g.AttachCommunitySummary(communities[0].ID, "what the tagged work was about")

	c := New(g, zaptest.NewLogger(t))
	window, err := c.Compile(tip, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, e := range window.Entries {
		if e.CommunityID == communities[0].ID {
			found = true
			if e.Text != "what the tagged work was about" {
				t.Errorf("community entry text = %q", e.Text)
			}
			if e.Resolution != ResolutionSummary {
				t.Errorf("community entry resolution = %q", e.Resolution)
			}
		}
		if e.NodeID != "" {
			for _, m := range communities[0].Members {
				if e.NodeID == m {
					t.Error("community represented while a member is individually visible")
				}
			}
		}
	}
	if !found {
		t.Error("community with all members hidden was not represented")
	}
}

func TestCompileCommunityDroppedBeforeNodes(t *testing.T) {
	cfg := graph.DefaultResolutionConfig()
	cfg.FullContextDistance = 1
	cfg.SummaryDistance = 2
	cfg.TitleDistance = 3
	g, err := graph.New("conv-drop", cfg, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := g.AddNode(graph.RoleUser, "tagged member content", "", []string{"proj"}); err != nil {
			t.Fatal(err)
		}
	}
	var tip string
	for i := 0; i < 6; i++ {
		n, _ := g.AddNode(graph.RoleUser, "later turn content", "", nil)
		tip = n.ID
	}
	g.AttachCommunitySummary(g.Communities()[0].ID, "aggregate summary text")

	c := New(g, zaptest.NewLogger(t))
	unbounded, err := c.Compile(tip, 1_000_000)
	if err != nil {
		t.Fatal(err)
	}

	window, err := c.Compile(tip, unbounded.TotalTokens-1)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range window.Entries {
		if e.CommunityID != "" {
			t.Error("community entry survived budget pressure ahead of nodes")
		}
	}
}

func TestRender(t *testing.T) {
	w := &ContextWindow{
		Entries: []Entry{
			{NodeID: "n1", Seq: 1, Role: "user", Resolution: ResolutionTitle, Text: "Old topic"},
			{CommunityID: "c1", Resolution: ResolutionSummary, Text: "Community recap"},
			{NodeID: "n2", Seq: 2, Role: "assistant", Resolution: ResolutionFull, Text: "Hello"},
		},
	}
	out := string(w.Render())
	want := "[#1 user title] Old topic\n[community c1 summary] Community recap\n[#2 assistant full] Hello\n"
	if out != want {
		t.Errorf("Render = %q, want %q", out, want)
	}
}
