package store

import (
	"context"
	"sync"

	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/jsonx"
)

// MemoryStore keeps profiles and snapshots in process memory. Values are
// stored as their JSON encoding so reads always return independent copies,
// matching the durable backends. Satisfies gating.Persistence and
// GraphStore.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string][]byte
	graphs   map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string][]byte),
		graphs:   make(map[string][]byte),
	}
}

// LoadProfile implements gating.Persistence.
func (s *MemoryStore) LoadProfile(_ context.Context, projectID, retrievalType string) (*gating.State, error) {
	s.mu.Lock()
	data, ok := s.profiles[projectID+"/"+retrievalType]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var state gating.State
	if err := jsonx.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveProfile implements gating.Persistence. The encode-and-swap under one
// lock gives atomic read-modify-write per key.
func (s *MemoryStore) SaveProfile(_ context.Context, state *gating.State) error {
	data, err := jsonx.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles[state.ProjectID+"/"+state.RetrievalType] = data
	s.mu.Unlock()
	return nil
}

// LoadGraph implements GraphStore.
func (s *MemoryStore) LoadGraph(_ context.Context, conversationID string) (*graph.Snapshot, error) {
	s.mu.Lock()
	data, ok := s.graphs[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var snap graph.Snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveGraph implements GraphStore.
func (s *MemoryStore) SaveGraph(_ context.Context, snap *graph.Snapshot) error {
	data, err := jsonx.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.graphs[snap.ConversationID] = data
	s.mu.Unlock()
	return nil
}
