package retrieval

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/embedding"
	"github.com/adaptive-context-kernel/internal/provider"
)

// DefaultVectorCapacity is the ring size of the recent-turn vector engine.
const DefaultVectorCapacity = 200

// vectorEntry is one embedded chunk in the ring.
type vectorEntry struct {
	id             string
	text           string
	conversationID string
	embedding      []float32
}

// VectorEngine searches recent turns by embedding similarity. It keeps a
// fixed-size ring of embedded entries; the newest overwrite the oldest.
// Requires an EmbeddingProvider — construction fails without one.
type VectorEngine struct {
	embedder provider.EmbeddingProvider
	logger   *zap.Logger

	mu       sync.RWMutex
	entries  []vectorEntry
	head     int
	size     int
	capacity int
}

// NewVectorEngine creates a vector engine over the given provider.
func NewVectorEngine(embedder provider.EmbeddingProvider, capacity int, logger *zap.Logger) *VectorEngine {
	if capacity <= 0 {
		capacity = DefaultVectorCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorEngine{
		embedder: embedder,
		logger:   logger.Named("vector"),
		entries:  make([]vectorEntry, capacity),
		capacity: capacity,
	}
}

// Add embeds text and stores it in the ring.
func (e *VectorEngine) Add(ctx context.Context, id, text, conversationID string) error {
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.entries[e.head] = vectorEntry{id: id, text: text, conversationID: conversationID, embedding: emb}
	e.head = (e.head + 1) % e.capacity
	if e.size < e.capacity {
		e.size++
	}
	e.mu.Unlock()
	return nil
}

// Search implements provider.RetrievalEngine.
func (e *VectorEngine) Search(ctx context.Context, query string, k int) ([]provider.Candidate, error) {
	queryEmb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	entries := make([]vectorEntry, e.size)
	for i := 0; i < e.size; i++ {
		entries[i] = e.entries[(e.head-e.size+i+e.capacity)%e.capacity]
	}
	e.mu.RUnlock()

	out := make([]provider.Candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.embedding == nil {
			continue
		}
		out = append(out, provider.Candidate{
			ID:      entry.id,
			Content: entry.text,
			Score:   embedding.CosineSimilarity(queryEmb, entry.embedding),
			Metadata: map[string]string{
				"conversation_id": entry.conversationID,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
