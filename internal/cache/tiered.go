// Package cache provides a two-tier cache for compiled context windows:
// an in-process Ristretto tier for hot lookups and an optional Redis tier
// shared across kernel instances.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tiered is a byte cache backed by Ristretto with Redis as the second
// tier. The Redis client may be nil, in which case only the memory tier
// is used.
type Tiered struct {
	mem    *ristretto.Cache[string, []byte]
	shared *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// Metrics counts tier hits and misses.
type Metrics struct {
	MemHits      int64
	MemMisses    int64
	SharedHits   int64
	SharedMisses int64
}

// NewTiered creates the cache. maxCost bounds the memory tier in bytes
// (entries are costed by length); ttl applies to both tiers.
func NewTiered(maxCost int64, ttl time.Duration, shared *redis.Client, logger *zap.Logger) (*Tiered, error) {
	if maxCost <= 0 {
		maxCost = 32 << 20
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mem, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}

	return &Tiered{
		mem:    mem,
		shared: shared,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}, nil
}

// Get checks the memory tier first, then Redis. A Redis hit is promoted
// into the memory tier.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := t.mem.Get(key); found {
		t.count(func(m *Metrics) { m.MemHits++ })
		return val, true
	}
	t.count(func(m *Metrics) { m.MemMisses++ })

	if t.shared == nil {
		return nil, false
	}
	data, err := t.shared.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		t.count(func(m *Metrics) { m.SharedMisses++ })
		return nil, false
	}
	t.count(func(m *Metrics) { m.SharedHits++ })
	t.mem.SetWithTTL(key, data, int64(len(data)), t.ttl)
	return data, true
}

// Set writes both tiers. The Redis write is fire-and-forget.
func (t *Tiered) Set(ctx context.Context, key string, data []byte) {
	t.mem.SetWithTTL(key, data, int64(len(data)), t.ttl)
	if t.shared == nil {
		return
	}
	go func() {
		if err := t.shared.Set(ctx, key, data, t.ttl).Err(); err != nil {
			t.logger.Warn("shared tier set failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.mem.Del(key)
	if t.shared != nil {
		if err := t.shared.Del(ctx, key).Err(); err != nil {
			t.logger.Warn("shared tier delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (t *Tiered) count(fn func(*Metrics)) {
	t.mu.Lock()
	fn(&t.metrics)
	t.mu.Unlock()
}

// Stats reports tier counters and the memory hit rate.
func (t *Tiered) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.metrics.MemHits + t.metrics.MemMisses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(t.metrics.MemHits) / float64(total)
	}
	return map[string]interface{}{
		"mem_hits":      t.metrics.MemHits,
		"mem_misses":    t.metrics.MemMisses,
		"shared_hits":   t.metrics.SharedHits,
		"shared_misses": t.metrics.SharedMisses,
		"mem_hit_rate":  hitRate,
		"shared_tier":   t.shared != nil,
		"ttl_seconds":   t.ttl.Seconds(),
	}
}

// Wait blocks until buffered memory-tier writes have been applied.
func (t *Tiered) Wait() {
	t.mem.Wait()
}

// Close releases the memory tier. The Redis client is owned by the caller.
func (t *Tiered) Close() {
	t.mem.Close()
}
