package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v240"
	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/jsonx"
)

// DgraphStore persists conversation snapshots in Dgraph, one node per
// conversation keyed by conversation_id. Satisfies GraphStore.
type DgraphStore struct {
	conn   *grpc.ClientConn
	dg     *dgo.Dgraph
	logger *zap.Logger
}

// DgraphConfig holds connection settings for the Dgraph alpha.
type DgraphConfig struct {
	Address        string        `yaml:"address"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultDgraphConfig returns sensible defaults.
func DefaultDgraphConfig() DgraphConfig {
	return DgraphConfig{
		Address:        "localhost:9080",
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// dgraphTimeoutInterceptor enforces a per-call timeout on unary calls that
// arrive without a deadline of their own.
func dgraphTimeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewDgraphStore connects to Dgraph with retries and installs the snapshot
// schema.
func NewDgraphStore(ctx context.Context, cfg DgraphConfig, logger *zap.Logger) (*DgraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dgraph-store")

	var conn *grpc.ClientConn
	var err error
	for i := 0; i < cfg.MaxRetries; i++ {
		conn, err = grpc.DialContext(ctx, cfg.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
			grpc.WithUnaryInterceptor(dgraphTimeoutInterceptor(cfg.RequestTimeout)),
		)
		if err == nil {
			break
		}
		logger.Warn("dgraph connect failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to dgraph after %d attempts: %w", cfg.MaxRetries, err)
	}

	s := &DgraphStore{
		conn:   conn,
		dg:     dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		logger: logger,
	}
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init dgraph schema: %w", err)
	}
	logger.Info("dgraph store connected", zap.String("address", cfg.Address))
	return s, nil
}

func (s *DgraphStore) initSchema(ctx context.Context) error {
	schema := `
		type ConversationSnapshot {
			conversation_id
			snapshot_json
			snapshot_version
			snapshot_saved_at
		}

		conversation_id: string @index(exact) @upsert .
		snapshot_json: string .
		snapshot_version: int .
		snapshot_saved_at: datetime @index(hour) .
	`
	if err := s.dg.Alter(ctx, &api.Operation{Schema: schema}); err != nil {
		return fmt.Errorf("alter schema: %w", err)
	}
	return nil
}

// LoadGraph implements GraphStore. Returns (nil, nil) when no snapshot
// exists for the conversation.
func (s *DgraphStore) LoadGraph(ctx context.Context, conversationID string) (*graph.Snapshot, error) {
	query := `query Snapshot($cid: string) {
		snap(func: eq(conversation_id, $cid)) @filter(type(ConversationSnapshot)) {
			snapshot_json
		}
	}`
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$cid": conversationID})
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", conversationID, err)
	}

	var result struct {
		Snap []struct {
			SnapshotJSON string `json:"snapshot_json"`
		} `json:"snap"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot response: %w", err)
	}
	if len(result.Snap) == 0 {
		return nil, nil
	}

	var snap graph.Snapshot
	if err := jsonx.UnmarshalFromString(result.Snap[0].SnapshotJSON, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", conversationID, err)
	}
	return &snap, nil
}

// SaveGraph implements GraphStore using an upsert keyed on conversation_id
// so repeated saves update the same node.
func (s *DgraphStore) SaveGraph(ctx context.Context, snap *graph.Snapshot) error {
	payload, err := jsonx.MarshalToString(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ConversationID, err)
	}

	query := fmt.Sprintf(`query {
		snap(func: eq(conversation_id, %q)) @filter(type(ConversationSnapshot)) {
			v as uid
		}
	}`, snap.ConversationID)

	mutation := map[string]interface{}{
		"uid":               "uid(v)",
		"dgraph.type":       "ConversationSnapshot",
		"conversation_id":   snap.ConversationID,
		"snapshot_json":     payload,
		"snapshot_version":  snap.Version,
		"snapshot_saved_at": time.Now().UTC().Format(time.RFC3339),
	}
	setJSON, err := jsonx.Marshal(mutation)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}

	txn := s.dg.NewTxn()
	defer txn.Discard(ctx)

	req := &api.Request{
		Query:     query,
		Mutations: []*api.Mutation{{SetJson: setJSON}},
		CommitNow: true,
	}
	if _, err := txn.Do(ctx, req); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.ConversationID, err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("conversation_id", snap.ConversationID),
		zap.Uint64("version", snap.Version))
	return nil
}

// Close closes the underlying connection.
func (s *DgraphStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
