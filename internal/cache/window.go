package cache

import (
	"context"
	"fmt"
)

// WindowCache caches rendered context windows. Keys embed the graph
// version, so a stale window is never served after the conversation
// advances; old versions simply age out.
type WindowCache struct {
	cache *Tiered
}

// NewWindowCache wraps a tiered cache for window rendering.
func NewWindowCache(t *Tiered) *WindowCache {
	return &WindowCache{cache: t}
}

func windowKey(conversationID, nodeID string, version uint64, maxTokens int) string {
	return fmt.Sprintf("win:%s:%s:%d:%d", conversationID, nodeID, version, maxTokens)
}

// Get returns a cached rendered window, if present.
func (w *WindowCache) Get(ctx context.Context, conversationID, nodeID string, version uint64, maxTokens int) ([]byte, bool) {
	if w == nil {
		return nil, false
	}
	return w.cache.Get(ctx, windowKey(conversationID, nodeID, version, maxTokens))
}

// Put stores a rendered window.
func (w *WindowCache) Put(ctx context.Context, conversationID, nodeID string, version uint64, maxTokens int, rendered []byte) {
	if w == nil {
		return
	}
	w.cache.Set(ctx, windowKey(conversationID, nodeID, version, maxTokens), rendered)
}
