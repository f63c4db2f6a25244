package gating

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

// recordingPersistence captures profile saves.
type recordingPersistence struct {
	mu    sync.Mutex
	saved []string
}

func (p *recordingPersistence) LoadProfile(_ context.Context, _, _ string) (*State, error) {
	return nil, nil
}

func (p *recordingPersistence) SaveProfile(_ context.Context, state *State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, profileKey(state.ProjectID, state.RetrievalType))
	return nil
}

func (p *recordingPersistence) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.saved...)
}

func TestProfilesStayResidentWithoutBackend(t *testing.T) {
	store := NewStore(nil, zaptest.NewLogger(t))
	ctx := context.Background()

	err := store.Update(ctx, "p0", "keyword", func(p *Profile) {
		p.CurrentThreshold = 0.42
	})
	if err != nil {
		t.Fatal(err)
	}

	// Far more profiles than the hot-cache capacity must not displace
	// live adaptive state when there is no backend to reload it from.
	for i := 1; i <= hotProfiles+100; i++ {
		if _, err := store.CurrentThreshold(ctx, fmt.Sprintf("p%d", i), "keyword"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.CurrentThreshold(ctx, "p0", "keyword")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.42 {
		t.Errorf("threshold = %v, want 0.42 preserved across churn", got)
	}
}

func TestEvictionFlushesProfileState(t *testing.T) {
	persist := &recordingPersistence{}
	store := NewStore(persist, zaptest.NewLogger(t))
	ctx := context.Background()

	// Reads alone never save, so any recorded save must come from the
	// eviction path once the hot cache overflows.
	for i := 0; i <= hotProfiles; i++ {
		if _, err := store.CurrentThreshold(ctx, fmt.Sprintf("p%d", i), "keyword"); err != nil {
			t.Fatal(err)
		}
	}

	keys := persist.keys()
	if len(keys) == 0 {
		t.Fatal("no profile flushed on eviction")
	}
	if keys[0] != "p0/keyword" {
		t.Errorf("flushed key = %q, want the least recently used p0/keyword", keys[0])
	}
}
