package graph

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/adaptive-context-kernel/internal/jsonx"
)

// recordingQueue captures enqueue calls for assertions.
type recordingQueue struct {
	mu          sync.Mutex
	summaries   []string
	titles      []string
	communities []string
	reject      bool
}

func (q *recordingQueue) EnqueueSummary(_, nodeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.summaries = append(q.summaries, nodeID)
	return true
}

func (q *recordingQueue) EnqueueTitle(_, nodeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.titles = append(q.titles, nodeID)
	return true
}

func (q *recordingQueue) EnqueueCommunity(_, communityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.communities = append(q.communities, communityID)
	return true
}

func newTestGraph(t *testing.T, queue SummaryQueue) *Graph {
	t.Helper()
	g, err := New("conv-1", DefaultResolutionConfig(), queue, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultResolutionConfig()
	cfg.SummaryDistance = 2 // below full_context_distance
	if _, err := New("c", cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New with bad config err = %v, want ErrInvalidConfig", err)
	}
}

func TestAddNodeLinksUnderTip(t *testing.T) {
	g := newTestGraph(t, nil)

	first, err := g.AddNode(RoleUser, "hello", "", nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if first.Seq != 1 || first.ParentID != "" {
		t.Errorf("first node seq=%d parent=%q", first.Seq, first.ParentID)
	}
	if first.ContentVersion != 1 || first.SummaryState != SummaryNone {
		t.Errorf("fresh node version=%d summary_state=%q", first.ContentVersion, first.SummaryState)
	}

	second, err := g.AddNode(RoleAssistant, "hi there", "", nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if second.ParentID != first.ID {
		t.Errorf("second node parent = %q, want tip %q", second.ParentID, first.ID)
	}
	if g.TipID() != second.ID {
		t.Errorf("TipID = %q, want %q", g.TipID(), second.ID)
	}
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2", g.Len())
	}
}

func TestAddNodeUnknownParent(t *testing.T) {
	g := newTestGraph(t, nil)
	if _, err := g.AddNode(RoleUser, "x", "no-such-node", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddNodeBumpsVersion(t *testing.T) {
	g := newTestGraph(t, nil)
	before := g.Version()
	g.AddNode(RoleUser, "x", "", nil)
	if g.Version() == before {
		t.Error("AddNode did not advance the graph version")
	}
}

func TestSetImportance(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, "x", "", nil)

	if err := g.SetImportance(node.ID, 0.25); err != nil {
		t.Fatalf("SetImportance: %v", err)
	}
	got, _ := g.GetNode(node.ID)
	if got.Importance != 0.25 {
		t.Errorf("importance = %v, want 0.25", got.Importance)
	}

	g.SetImportance(node.ID, 4.2)
	got, _ = g.GetNode(node.ID)
	if got.Importance != 1 {
		t.Errorf("importance = %v, want clamped to 1", got.Importance)
	}

	g.SetImportance(node.ID, -0.5)
	got, _ = g.GetNode(node.ID)
	if got.Importance != 0 {
		t.Errorf("importance = %v, want clamped to 0", got.Importance)
	}

	if err := g.SetImportance("missing", 0.5); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetImportance(missing) err = %v, want ErrNotFound", err)
	}

	before := g.Version()
	g.SetImportance(node.ID, 0.7)
	if g.Version() == before {
		t.Error("SetImportance did not advance the graph version")
	}
}

func TestGetNodeReturnsCopy(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, "original", "", nil)

	got, err := g.GetNode(node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	got.Content = "mutated"
	again, _ := g.GetNode(node.ID)
	if again.Content != "original" {
		t.Error("GetNode leaked a mutable reference")
	}

	if _, err := g.GetNode("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode(missing) err = %v, want ErrNotFound", err)
	}
}

func TestDistance(t *testing.T) {
	g := newTestGraph(t, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		n, _ := g.AddNode(RoleUser, "turn", "", nil)
		ids = append(ids, n.ID)
	}

	d, err := g.Distance(ids[0], ids[4])
	if err != nil || d != 4 {
		t.Errorf("Distance = %d err=%v, want 4", d, err)
	}
	// Symmetric.
	d, _ = g.Distance(ids[4], ids[0])
	if d != 4 {
		t.Errorf("Distance reversed = %d, want 4", d)
	}
	if _, err := g.Distance(ids[0], "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Distance missing err = %v", err)
	}
}

func TestAncestorChain(t *testing.T) {
	g := newTestGraph(t, nil)
	var ids []string
	for i := 0; i < 4; i++ {
		n, _ := g.AddNode(RoleUser, "turn", "", nil)
		ids = append(ids, n.ID)
	}

	chain, err := g.AncestorChain(ids[3])
	if err != nil {
		t.Fatalf("AncestorChain: %v", err)
	}
	if len(chain) != 4 {
		t.Fatalf("chain length = %d, want 4", len(chain))
	}
	for i, n := range chain {
		if n.ID != ids[i] {
			t.Errorf("chain[%d] = %q, want %q", i, n.ID, ids[i])
		}
	}
}

func TestAttachSummaryIdempotent(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, strings.Repeat("long content ", 50), "", nil)

	if !g.AttachSummary(node.ID, "a summary", node.ContentVersion) {
		t.Fatal("first attach rejected")
	}
	// Second attach for the same version is a no-op.
	if g.AttachSummary(node.ID, "another summary", node.ContentVersion) {
		t.Error("duplicate attach accepted")
	}
	// Stale version never attaches.
	if g.AttachSummary(node.ID, "stale", node.ContentVersion+1) {
		t.Error("attach with mismatched version accepted")
	}

	got, _ := g.GetNode(node.ID)
	if got.Summary != "a summary" || got.SummaryState != SummaryReady {
		t.Errorf("summary = %q state = %q", got.Summary, got.SummaryState)
	}
	if got.SummaryTokens == 0 {
		t.Error("summary tokens not counted")
	}
}

func TestAttachTitle(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, "content", "", nil)

	if !g.AttachTitle(node.ID, "Topic", node.ContentVersion) {
		t.Fatal("title attach rejected")
	}
	got, _ := g.GetNode(node.ID)
	if got.Title != "Topic" || got.TitleState != SummaryReady {
		t.Errorf("title = %q state = %q", got.Title, got.TitleState)
	}
}

func TestMarkSummaryFailed(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, "content", "", nil)

	g.MarkSummaryFailed(node.ID, false)
	got, _ := g.GetNode(node.ID)
	if got.SummaryState != SummaryFailed {
		t.Errorf("summary state = %q, want failed", got.SummaryState)
	}

	// A ready summary is never downgraded to failed.
	g.AttachSummary(node.ID, "s", node.ContentVersion)
	g.MarkSummaryFailed(node.ID, false)
	got, _ = g.GetNode(node.ID)
	if got.SummaryState != SummaryReady {
		t.Errorf("ready summary overwritten: %q", got.SummaryState)
	}
}

func TestCommunityCreation(t *testing.T) {
	queue := &recordingQueue{}
	g := newTestGraph(t, queue)

	// Default MinNodesForCommunity is 3: no community before that.
	g.AddNode(RoleUser, "a", "", []string{"task-1"})
	g.AddNode(RoleUser, "b", "", []string{"task-1"})
	if len(g.Communities()) != 0 {
		t.Fatal("community created too early")
	}

	third, _ := g.AddNode(RoleUser, "c", "", []string{"task-1"})
	communities := g.Communities()
	if len(communities) != 1 {
		t.Fatalf("communities = %d, want 1", len(communities))
	}
	c := communities[0]
	if c.TaskID != "task-1" || len(c.Members) != 3 {
		t.Errorf("community task=%q members=%d", c.TaskID, len(c.Members))
	}
	got, _ := g.GetNode(third.ID)
	if got.CommunityID != c.ID {
		t.Error("member node not tagged with community id")
	}

	queue.mu.Lock()
	enqueued := len(queue.communities)
	queue.mu.Unlock()
	if enqueued == 0 {
		t.Error("community summary never scheduled")
	}
}

func TestAttachCommunitySummary(t *testing.T) {
	g := newTestGraph(t, &recordingQueue{})
	for i := 0; i < 3; i++ {
		g.AddNode(RoleUser, "member content", "", []string{"t"})
	}
	c := g.Communities()[0]

	text, ok := g.CommunityInput(c.ID)
	if !ok || text == "" {
		t.Fatal("CommunityInput empty")
	}
	if !g.AttachCommunitySummary(c.ID, "aggregate") {
		t.Fatal("community attach rejected")
	}
	got, _ := g.GetCommunity(c.ID)
	if got.Summary != "aggregate" || got.SummaryState != SummaryReady {
		t.Errorf("community summary = %q state = %q", got.Summary, got.SummaryState)
	}
	if got.MembersAtLastSummary != 3 {
		t.Errorf("members at last summary = %d, want 3", got.MembersAtLastSummary)
	}
}

func TestStaleAncestorScheduling(t *testing.T) {
	queue := &recordingQueue{}
	cfg := DefaultResolutionConfig()
	cfg.FullContextDistance = 2
	cfg.SummaryDistance = 4
	cfg.TitleDistance = 8
	g, err := New("conv-s", cfg, queue, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for i := 0; i < 6; i++ {
		n, _ := g.AddNode(RoleUser, "turn content", "", nil)
		ids = append(ids, n.ID)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	// The first node sits at distance 5 from the tip: past both thresholds.
	foundSummary := false
	for _, id := range queue.summaries {
		if id == ids[0] {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Error("oldest node never scheduled for summary")
	}
	foundTitle := false
	for _, id := range queue.titles {
		if id == ids[0] {
			foundTitle = true
		}
	}
	if !foundTitle {
		t.Error("oldest node never scheduled for title")
	}
	// The tip's parent is at distance 1: inside full context, no work.
	for _, id := range queue.summaries {
		if id == ids[4] {
			t.Error("near ancestor scheduled prematurely")
		}
	}
}

func TestRejectedEnqueueKeepsNodeEligible(t *testing.T) {
	queue := &recordingQueue{reject: true}
	cfg := DefaultResolutionConfig()
	cfg.FullContextDistance = 1
	cfg.SummaryDistance = 2
	cfg.TitleDistance = 3
	g, err := New("conv-r", cfg, queue, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	first, _ := g.AddNode(RoleUser, "a", "", nil)
	g.AddNode(RoleUser, "b", "", nil)
	g.AddNode(RoleUser, "c", "", nil)

	got, _ := g.GetNode(first.ID)
	if got.SummaryState != SummaryNone {
		t.Errorf("rejected enqueue left state %q, want none", got.SummaryState)
	}
}

func TestTouch(t *testing.T) {
	g := newTestGraph(t, nil)
	node, _ := g.AddNode(RoleUser, "x", "", nil)
	before := g.Version()

	at := time.Now().UTC()
	g.Touch([]string{node.ID, "missing"}, at)

	got, _ := g.GetNode(node.ID)
	if got.AccessCount != 1 || !got.LastAccess.Equal(at) {
		t.Errorf("access count=%d last=%v", got.AccessCount, got.LastAccess)
	}
	if g.Version() != before {
		t.Error("Touch must not bump the version")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := newTestGraph(t, &recordingQueue{})
	for i := 0; i < 5; i++ {
		g.AddNode(RoleUser, "turn content for the round trip", "", []string{"task-x"})
	}
	node, _ := g.GetNode(g.TipID())
	g.AttachSummary(node.ID, "tip summary", node.ContentVersion)

	snap := g.Snapshot()
	data, err := jsonx.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded Snapshot
	if err := jsonx.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored, err := FromSnapshot(&decoded, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if restored.Len() != g.Len() {
		t.Errorf("restored len = %d, want %d", restored.Len(), g.Len())
	}
	if restored.TipID() != g.TipID() {
		t.Errorf("restored tip = %q, want %q", restored.TipID(), g.TipID())
	}
	if restored.Version() != g.Version() {
		t.Errorf("restored version = %d, want %d", restored.Version(), g.Version())
	}
	tip, err := restored.GetNode(g.TipID())
	if err != nil {
		t.Fatalf("restored GetNode: %v", err)
	}
	if tip.Summary != "tip summary" || tip.SummaryState != SummaryReady {
		t.Errorf("restored tip summary = %q state = %q", tip.Summary, tip.SummaryState)
	}
	if len(restored.Communities()) != len(g.Communities()) {
		t.Error("communities lost in round trip")
	}

	// The restored chain is intact.
	chain, err := restored.AncestorChain(restored.TipID())
	if err != nil || len(chain) != 5 {
		t.Errorf("restored chain len=%d err=%v", len(chain), err)
	}
}

func TestGeneratedConversationID(t *testing.T) {
	g, err := New("", DefaultResolutionConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.ConversationID() == "" {
		t.Error("empty conversation id not generated")
	}
}
