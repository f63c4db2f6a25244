package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
	"github.com/adaptive-context-kernel/internal/jsonx"
)

const (
	profileKeyPrefix = "ack:profile:"
	graphKeyPrefix   = "ack:graph:"

	// rmwRetries bounds the optimistic-transaction retry loop.
	rmwRetries = 5
)

// RedisStore persists profiles and graph snapshots in Redis. Profile saves
// run inside a WATCH transaction so concurrent writers for the same key
// cannot clobber a newer state. Satisfies gating.Persistence and
// GraphStore.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis store connected", zap.String("address", cfg.Address))
	return &RedisStore{client: client, logger: logger.Named("redis-store")}, nil
}

// LoadProfile implements gating.Persistence.
func (s *RedisStore) LoadProfile(ctx context.Context, projectID, retrievalType string) (*gating.State, error) {
	key := profileKeyPrefix + projectID + "/" + retrievalType
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var state gating.State
	if err := jsonx.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveProfile implements gating.Persistence with optimistic concurrency:
// the write aborts and retries when another writer commits between the
// WATCH and the EXEC, and a strictly newer persisted state wins.
func (s *RedisStore) SaveProfile(ctx context.Context, state *gating.State) error {
	key := profileKeyPrefix + state.ProjectID + "/" + state.RetrievalType
	data, err := jsonx.Marshal(state)
	if err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var prev gating.State
			if jerr := jsonx.Unmarshal(existing, &prev); jerr == nil && prev.UpdatedAt.After(state.UpdatedAt) {
				// A newer state is already persisted; keep it.
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < rmwRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis save %s: %w", key, err)
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("redis save %s: transaction contention after %d attempts", key, rmwRetries)
}

// LoadGraph implements GraphStore.
func (s *RedisStore) LoadGraph(ctx context.Context, conversationID string) (*graph.Snapshot, error) {
	data, err := s.client.Get(ctx, graphKeyPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get graph %s: %w", conversationID, err)
	}
	var snap graph.Snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveGraph implements GraphStore. Snapshot versions are monotonic per
// conversation, so last-write-wins is safe under the single-writer graph
// discipline.
func (s *RedisStore) SaveGraph(ctx context.Context, snap *graph.Snapshot) error {
	data, err := jsonx.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, graphKeyPrefix+snap.ConversationID, data, 0).Err(); err != nil {
		return fmt.Errorf("redis save graph %s: %w", snap.ConversationID, err)
	}
	return nil
}

// Client exposes the underlying connection for components that share it,
// such as the cache's second tier.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
