// Package kernel is the facade over the context-management engine: it owns
// the live conversation graphs, the condensation pipeline, the adaptive
// retrieval gate, and the compile path that produces token-bounded context
// windows.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/cache"
	"github.com/adaptive-context-kernel/internal/chunking"
	"github.com/adaptive-context-kernel/internal/compile"
	"github.com/adaptive-context-kernel/internal/critic"
	"github.com/adaptive-context-kernel/internal/events"
	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/provider"
	"github.com/adaptive-context-kernel/internal/store"
	"github.com/adaptive-context-kernel/internal/summarize"
)

// SearchIndex is a searchable chunk index. Both retrieval engines satisfy
// it.
type SearchIndex interface {
	provider.RetrievalEngine
	Add(ctx context.Context, id, text, conversationID string) error
}

// Config holds the kernel's own settings.
type Config struct {
	Resolution graph.ResolutionConfig
	Pipeline   summarize.Config

	// SnapshotInterval is how often dirty graphs are flushed to the
	// graph store. Zero disables periodic snapshots.
	SnapshotInterval time.Duration
}

// Deps are the kernel's injected collaborators. Condenser is required;
// everything else may be nil and the corresponding feature degrades
// gracefully.
type Deps struct {
	Condenser    provider.TextCondenser
	GraphStore   store.GraphStore
	ProfileStore gating.Persistence
	Critic       critic.Critic

	// Indexes maps retrieval type ("keyword", "vector") to its engine.
	Indexes map[string]SearchIndex

	Events  *events.Publisher
	Windows *cache.WindowCache
}

// Kernel coordinates graphs, compilation, condensation, and gating.
type Kernel struct {
	config Config
	deps   Deps
	logger *zap.Logger

	pipeline *summarize.Pipeline
	profiles *gating.Store
	gate     *gating.Gate
	critic   critic.Critic
	chunker  *chunking.Chunker

	mu            sync.RWMutex
	conversations map[string]*conversation
	lastSaved     map[string]uint64
	isRunning     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// conversation pairs a graph with its compiler.
type conversation struct {
	graph    *graph.Graph
	compiler *compile.Compiler
}

// New creates a kernel. Call Start before use.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Kernel, error) {
	if deps.Condenser == nil {
		return nil, fmt.Errorf("condenser is required")
	}
	if err := cfg.Resolution.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		config:        cfg,
		deps:          deps,
		logger:        logger.Named("kernel"),
		conversations: make(map[string]*conversation),
		lastSaved:     make(map[string]uint64),
		ctx:           ctx,
		cancel:        cancel,
	}

	k.chunker = chunking.New(chunking.Config{})
	k.profiles = gating.NewStore(deps.ProfileStore, logger)
	k.gate = gating.NewGate(k.profiles, logger)
	if deps.Critic != nil {
		k.critic = deps.Critic
	} else {
		k.critic = critic.NewHeuristic(logger)
	}

	var notifier summarize.Notifier
	if deps.Events != nil {
		notifier = deps.Events
	}
	k.pipeline = summarize.New(cfg.Pipeline, deps.Condenser, (*graphSource)(k), notifier, logger)
	return k, nil
}

// Profiles exposes the gating profile store for configuration.
func (k *Kernel) Profiles() *gating.Store { return k.profiles }

// Start launches the pipeline workers and the snapshot loop.
func (k *Kernel) Start() error {
	k.mu.Lock()
	if k.isRunning {
		k.mu.Unlock()
		return nil
	}
	k.isRunning = true
	k.mu.Unlock()

	k.pipeline.Start()

	if k.deps.GraphStore != nil && k.config.SnapshotInterval > 0 {
		k.wg.Add(1)
		go k.runSnapshotLoop()
	}

	k.logger.Info("kernel started",
		zap.Int("pipeline_workers", k.config.Pipeline.Workers),
		zap.Duration("snapshot_interval", k.config.SnapshotInterval))
	return nil
}

// Stop drains the pipeline and flushes a final round of snapshots.
func (k *Kernel) Stop() error {
	k.mu.Lock()
	if !k.isRunning {
		k.mu.Unlock()
		return nil
	}
	k.isRunning = false
	k.mu.Unlock()

	k.cancel()
	k.pipeline.Stop()
	k.wg.Wait()

	if k.deps.GraphStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		k.flushSnapshots(ctx)
	}

	k.logger.Info("kernel stopped")
	return nil
}

// conversationFor returns the live conversation, loading a persisted
// snapshot or creating a fresh graph on first touch.
func (k *Kernel) conversationFor(ctx context.Context, conversationID string) (*conversation, error) {
	k.mu.RLock()
	if c, ok := k.conversations[conversationID]; ok {
		k.mu.RUnlock()
		return c, nil
	}
	k.mu.RUnlock()

	var g *graph.Graph
	if k.deps.GraphStore != nil {
		snap, err := k.deps.GraphStore.LoadGraph(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
		}
		if snap != nil {
			g, err = graph.FromSnapshot(snap, k.pipeline, k.logger)
			if err != nil {
				return nil, fmt.Errorf("restore conversation %s: %w", conversationID, err)
			}
		}
	}
	if g == nil {
		var err error
		g, err = graph.New(conversationID, k.config.Resolution, k.pipeline, k.logger)
		if err != nil {
			return nil, err
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.conversations[conversationID]; ok {
		return c, nil
	}
	c := &conversation{graph: g, compiler: compile.New(g, k.logger)}
	k.conversations[conversationID] = c
	k.lastSaved[conversationID] = g.Version()
	return c, nil
}

// graphFor returns the live graph without creating one.
func (k *Kernel) graphFor(conversationID string) (*graph.Graph, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return c.graph, true
}

// EndConversation cancels pending condensation work and drops the live
// graph after a final snapshot.
func (k *Kernel) EndConversation(ctx context.Context, conversationID string) error {
	k.pipeline.CancelConversation(conversationID)

	k.mu.Lock()
	c, ok := k.conversations[conversationID]
	if ok {
		delete(k.conversations, conversationID)
		delete(k.lastSaved, conversationID)
	}
	k.mu.Unlock()
	if !ok {
		return nil
	}

	if k.deps.GraphStore != nil {
		if err := k.deps.GraphStore.SaveGraph(ctx, c.graph.Snapshot()); err != nil {
			return fmt.Errorf("final snapshot %s: %w", conversationID, err)
		}
	}
	k.logger.Info("conversation ended", zap.String("conversation_id", conversationID))
	return nil
}

func (k *Kernel) runSnapshotLoop() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), k.config.SnapshotInterval)
			k.flushSnapshots(ctx)
			cancel()
		}
	}
}

// flushSnapshots saves every graph whose version moved since its last
// successful save.
func (k *Kernel) flushSnapshots(ctx context.Context) {
	k.mu.RLock()
	dirty := make(map[string]*graph.Graph, len(k.conversations))
	for id, c := range k.conversations {
		if c.graph.Version() != k.lastSaved[id] {
			dirty[id] = c.graph
		}
	}
	k.mu.RUnlock()

	for id, g := range dirty {
		snap := g.Snapshot()
		if err := k.deps.GraphStore.SaveGraph(ctx, snap); err != nil {
			k.logger.Warn("snapshot save failed",
				zap.String("conversation_id", id),
				zap.Error(err))
			continue
		}
		k.mu.Lock()
		if _, still := k.conversations[id]; still {
			k.lastSaved[id] = snap.Version
		}
		k.mu.Unlock()
	}
}

// Stats aggregates counters from the kernel's components.
func (k *Kernel) Stats() map[string]interface{} {
	k.mu.RLock()
	active := len(k.conversations)
	k.mu.RUnlock()

	out := map[string]interface{}{
		"active_conversations": active,
		"pipeline":             k.pipeline.GetStats(),
	}
	for name, idx := range k.deps.Indexes {
		out["index_"+name] = idx != nil
	}
	return out
}
