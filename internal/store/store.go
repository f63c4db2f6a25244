// Package store provides durable persistence for gating profiles and
// conversation graph snapshots. Three backends ship: in-memory (tests and
// single-process use), Redis (profiles and snapshots with optimistic
// read-modify-write), and Dgraph (snapshot archive).
package store

import (
	"context"

	"github.com/adaptive-context-kernel/internal/graph"
)

// GraphStore persists conversation graph snapshots. LoadGraph returns
// (nil, nil) when no snapshot exists for the conversation.
type GraphStore interface {
	LoadGraph(ctx context.Context, conversationID string) (*graph.Snapshot, error)
	SaveGraph(ctx context.Context, snap *graph.Snapshot) error
}
