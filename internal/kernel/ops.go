package kernel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/compile"
	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/provider"
)

// AddTurn appends a message to the conversation. parentID of "" attaches
// to the tip. An importance above zero overrides the node's default
// downgrade weight of 1. The new node's content is fed to every configured
// retrieval index; index failures are logged, not fatal.
func (k *Kernel) AddTurn(ctx context.Context, conversationID string, role graph.Role, content, parentID string, taskIDs []string, importance float64) (*graph.MessageNode, error) {
	c, err := k.conversationFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	node, err := c.graph.AddNode(role, content, parentID, taskIDs)
	if err != nil {
		return nil, err
	}
	if importance > 0 {
		if err := c.graph.SetImportance(node.ID, importance); err != nil {
			return nil, err
		}
		if node, err = c.graph.GetNode(node.ID); err != nil {
			return nil, err
		}
	}

	for i, chunk := range k.chunker.Split(content) {
		chunkID := node.ID
		if i > 0 {
			chunkID = fmt.Sprintf("%s#%d", node.ID, i)
		}
		for name, idx := range k.deps.Indexes {
			if idx == nil {
				continue
			}
			if err := idx.Add(ctx, chunkID, chunk.Text, conversationID); err != nil {
				k.logger.Warn("index add failed",
					zap.String("index", name),
					zap.String("chunk_id", chunkID),
					zap.Error(err))
			}
		}
	}
	return node, nil
}

// Compile produces the context window for currentNodeID under maxTokens.
func (k *Kernel) Compile(ctx context.Context, conversationID, currentNodeID string, maxTokens int) (*compile.ContextWindow, error) {
	c, err := k.conversationFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.compiler.Compile(currentNodeID, maxTokens)
}

// CompileRendered returns the window's deterministic textual form, served
// from the window cache when the graph has not advanced.
func (k *Kernel) CompileRendered(ctx context.Context, conversationID, currentNodeID string, maxTokens int) ([]byte, error) {
	c, err := k.conversationFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	version := c.graph.Version()
	if rendered, ok := k.deps.Windows.Get(ctx, conversationID, currentNodeID, version, maxTokens); ok {
		return rendered, nil
	}

	window, err := c.compiler.Compile(currentNodeID, maxTokens)
	if err != nil {
		return nil, err
	}
	rendered := window.Render()
	k.deps.Windows.Put(ctx, conversationID, currentNodeID, version, maxTokens, rendered)
	return rendered, nil
}

// Retrieve searches the named index and passes the candidates through the
// adaptive gate.
func (k *Kernel) Retrieve(ctx context.Context, query string, fetchK int, req gating.FilterRequest) ([]provider.Candidate, error) {
	idx, ok := k.deps.Indexes[req.RetrievalType]
	if !ok || idx == nil {
		return nil, fmt.Errorf("no index for retrieval type %q", req.RetrievalType)
	}
	if fetchK <= 0 {
		fetchK = 2 * req.MaxChunks
	}
	candidates, err := idx.Search(ctx, query, fetchK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.RetrievalType, err)
	}
	return k.gate.Filter(ctx, candidates, req)
}

// FilterCandidates gates externally produced candidates without a search.
func (k *Kernel) FilterCandidates(ctx context.Context, candidates []provider.Candidate, req gating.FilterRequest) ([]provider.Candidate, error) {
	return k.gate.Filter(ctx, candidates, req)
}

// RecordFeedback applies retrieval quality feedback to the matching
// profile and publishes the resulting threshold.
func (k *Kernel) RecordFeedback(ctx context.Context, projectID, retrievalType string, fb gating.Feedback) error {
	if err := k.profiles.RecordFeedback(ctx, projectID, retrievalType, fb); err != nil {
		return err
	}
	if k.deps.Events != nil {
		k.deps.Events.FeedbackRecorded(projectID, retrievalType)
		if threshold, err := k.profiles.CurrentThreshold(ctx, projectID, retrievalType); err == nil {
			k.deps.Events.ThresholdAdapted(projectID, retrievalType, threshold)
		}
	}
	return nil
}

// GateProfile returns the persistable state of a gating profile.
func (k *Kernel) GateProfile(ctx context.Context, projectID, retrievalType string) (*gating.State, error) {
	return k.profiles.Snapshot(ctx, projectID, retrievalType)
}

// Critique compiles a window for the query and attaches the critic's
// assessment to it.
func (k *Kernel) Critique(ctx context.Context, conversationID, currentNodeID, query string, maxTokens int) (*compile.ContextWindow, error) {
	window, err := k.Compile(ctx, conversationID, currentNodeID, maxTokens)
	if err != nil {
		return nil, err
	}
	critique, err := k.critic.Critique(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("critique: %w", err)
	}
	window.Critique = critique
	return window, nil
}
