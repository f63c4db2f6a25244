// Package summarize runs the background condensation pipeline: a bounded
// worker pool draining an explicit job queue of nodes and communities that
// need summaries or titles. Failures are absorbed with retry and fallback;
// they are never fatal to the request path.
package summarize

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/provider"
)

// Kind identifies what one job condenses.
type Kind string

const (
	KindSummary   Kind = "summary"
	KindTitle     Kind = "title"
	KindCommunity Kind = "community"
)

// Job is one unit of condensation work. Jobs are comparable: the pipeline
// deduplicates on the full value.
type Job struct {
	ConversationID string
	TargetID       string
	Kind           Kind
}

// Source provides job input and receives results. The kernel implements it
// over its conversation graphs.
type Source interface {
	SummaryInput(conversationID, nodeID string) (text string, version int, ok bool)
	CommunityInput(conversationID, communityID string) (text string, ok bool)
	AttachSummary(conversationID, nodeID, summary string, version int) bool
	AttachTitle(conversationID, nodeID, title string, version int) bool
	AttachCommunitySummary(conversationID, communityID, summary string) bool
	MarkFailed(conversationID, targetID string, kind Kind)
}

// Notifier receives pipeline lifecycle events. May be nil.
type Notifier interface {
	SummaryCompleted(conversationID, targetID string, kind Kind)
	SummaryFailed(conversationID, targetID string, kind Kind)
}

// Config holds the pipeline configuration.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	MaxSummaryTokens int
	MaxTitleTokens   int

	// DailyCostBudget caps condenser calls per UTC day. Zero disables
	// the cap.
	DailyCostBudget int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        256,
		MaxAttempts:      3,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		MaxSummaryTokens: 150,
		MaxTitleTokens:   15,
		DailyCostBudget:  2000,
	}
}

// Stats tracks pipeline counters.
type Stats struct {
	Enqueued      int64
	Deduplicated  int64
	DroppedBudget int64
	DroppedFull   int64
	Completed     int64
	Failed        int64
	Cancelled     int64
}

// Pipeline is the bounded-concurrency condensation worker pool.
type Pipeline struct {
	config    Config
	condenser provider.TextCondenser
	source    Source
	notifier  Notifier
	logger    *zap.Logger

	jobs   chan Job
	budget *costBudget

	mu        sync.Mutex
	pending   map[Job]struct{}
	cancelled map[string]struct{}
	stats     Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline. It does not start workers; call Start.
func New(cfg Config, condenser provider.TextCondenser, source Source, notifier Notifier, logger *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		config:    cfg,
		condenser: condenser,
		source:    source,
		notifier:  notifier,
		logger:    logger.Named("summarize"),
		jobs:      make(chan Job, cfg.QueueSize),
		budget:    newCostBudget(cfg.DailyCostBudget),
		pending:   make(map[Job]struct{}),
		cancelled: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.logger.Info("pipeline started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Stop shuts the pool down. Queued jobs are abandoned; in-flight condenser
// calls are allowed to finish.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

// EnqueueSummary schedules a node summary. Implements graph.SummaryQueue.
func (p *Pipeline) EnqueueSummary(conversationID, nodeID string) bool {
	return p.enqueue(Job{ConversationID: conversationID, TargetID: nodeID, Kind: KindSummary})
}

// EnqueueTitle schedules a node title.
func (p *Pipeline) EnqueueTitle(conversationID, nodeID string) bool {
	return p.enqueue(Job{ConversationID: conversationID, TargetID: nodeID, Kind: KindTitle})
}

// EnqueueCommunity schedules a community aggregate summary.
func (p *Pipeline) EnqueueCommunity(conversationID, communityID string) bool {
	return p.enqueue(Job{ConversationID: conversationID, TargetID: communityID, Kind: KindCommunity})
}

func (p *Pipeline) enqueue(job Job) bool {
	now := time.Now()
	if p.budget.Exhausted(now) {
		p.mu.Lock()
		p.stats.DroppedBudget++
		p.mu.Unlock()
		p.logger.Warn("enqueue dropped: daily cost budget exhausted",
			zap.String("conversation_id", job.ConversationID),
			zap.String("target_id", job.TargetID),
			zap.String("kind", string(job.Kind)))
		return false
	}

	p.mu.Lock()
	if _, dup := p.pending[job]; dup {
		p.stats.Deduplicated++
		p.mu.Unlock()
		return true
	}
	p.pending[job] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		p.mu.Lock()
		p.stats.Enqueued++
		p.mu.Unlock()
		return true
	default:
		p.mu.Lock()
		delete(p.pending, job)
		p.stats.DroppedFull++
		p.mu.Unlock()
		p.logger.Warn("enqueue dropped: queue full",
			zap.String("target_id", job.TargetID),
			zap.String("kind", string(job.Kind)))
		return false
	}
}

// CancelConversation drops queued work for a conversation. In-flight
// condenser calls complete but their results are discarded.
func (p *Pipeline) CancelConversation(conversationID string) {
	p.mu.Lock()
	p.cancelled[conversationID] = struct{}{}
	p.mu.Unlock()
}

func (p *Pipeline) isCancelled(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancelled[conversationID]
	return ok
}

// GetStats returns a copy of the pipeline counters plus budget usage.
func (p *Pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	s := p.stats
	p.mu.Unlock()
	return map[string]interface{}{
		"enqueued":       s.Enqueued,
		"deduplicated":   s.Deduplicated,
		"dropped_budget": s.DroppedBudget,
		"dropped_full":   s.DroppedFull,
		"completed":      s.Completed,
		"failed":         s.Failed,
		"cancelled":      s.Cancelled,
		"budget_spent":   p.budget.Spent(time.Now()),
		"budget_limit":   p.config.DailyCostBudget,
	}
}

func (p *Pipeline) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.process(job)
			p.mu.Lock()
			delete(p.pending, job)
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) process(job Job) {
	if p.isCancelled(job.ConversationID) {
		p.mu.Lock()
		p.stats.Cancelled++
		p.mu.Unlock()
		return
	}

	var text string
	var version int
	var targetTokens int
	switch job.Kind {
	case KindSummary:
		targetTokens = p.config.MaxSummaryTokens
		var ok bool
		text, version, ok = p.source.SummaryInput(job.ConversationID, job.TargetID)
		if !ok {
			return
		}
	case KindTitle:
		targetTokens = p.config.MaxTitleTokens
		var ok bool
		text, version, ok = p.source.SummaryInput(job.ConversationID, job.TargetID)
		if !ok {
			return
		}
	case KindCommunity:
		targetTokens = p.config.MaxSummaryTokens
		var ok bool
		text, ok = p.source.CommunityInput(job.ConversationID, job.TargetID)
		if !ok {
			return
		}
	default:
		return
	}

	result, err := p.condenseWithRetry(job, text, targetTokens)
	if err != nil {
		p.source.MarkFailed(job.ConversationID, job.TargetID, job.Kind)
		p.mu.Lock()
		p.stats.Failed++
		p.mu.Unlock()
		if p.notifier != nil {
			p.notifier.SummaryFailed(job.ConversationID, job.TargetID, job.Kind)
		}
		p.logger.Warn("condensation failed, node falls back to truncation",
			zap.String("target_id", job.TargetID),
			zap.String("kind", string(job.Kind)),
			zap.Error(err))
		return
	}

	// Results for a cancelled conversation are discarded, not attached.
	if p.isCancelled(job.ConversationID) {
		p.mu.Lock()
		p.stats.Cancelled++
		p.mu.Unlock()
		return
	}

	var attached bool
	switch job.Kind {
	case KindSummary:
		attached = p.source.AttachSummary(job.ConversationID, job.TargetID, result, version)
	case KindTitle:
		attached = p.source.AttachTitle(job.ConversationID, job.TargetID, result, version)
	case KindCommunity:
		attached = p.source.AttachCommunitySummary(job.ConversationID, job.TargetID, result)
	}

	p.mu.Lock()
	p.stats.Completed++
	p.mu.Unlock()
	if attached && p.notifier != nil {
		p.notifier.SummaryCompleted(job.ConversationID, job.TargetID, job.Kind)
	}
}

// condenseWithRetry calls the condenser with exponential backoff. Every
// attempt consumes one unit of the daily cost budget.
func (p *Pipeline) condenseWithRetry(job Job, text string, targetTokens int) (string, error) {
	backoff := p.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if !p.budget.Spend(time.Now()) {
			p.logger.Warn("daily cost budget exhausted mid-job",
				zap.String("target_id", job.TargetID))
			if lastErr != nil {
				return "", lastErr
			}
			return "", provider.ErrRateLimited
		}

		result, err := p.condenser.Condense(p.ctx, text, targetTokens)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) || attempt == p.config.MaxAttempts {
			break
		}

		p.logger.Debug("condense attempt failed, backing off",
			zap.String("target_id", job.TargetID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-p.ctx.Done():
			return "", p.ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.config.MaxBackoff {
			backoff = p.config.MaxBackoff
		}
	}
	return "", lastErr
}
