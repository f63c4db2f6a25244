package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newMemTiered(t *testing.T) *Tiered {
	t.Helper()
	c, err := NewTiered(1<<20, time.Minute, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewTiered: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestTieredSetGet(t *testing.T) {
	c := newMemTiered(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("hit on an empty cache")
	}

	c.Set(ctx, "k", []byte("payload"))
	c.Wait()

	got, ok := c.Get(ctx, "k")
	if !ok || string(got) != "payload" {
		t.Errorf("Get = %q ok=%v", got, ok)
	}
}

func TestTieredDelete(t *testing.T) {
	c := newMemTiered(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	c.Wait()
	c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("key survived delete")
	}
}

func TestTieredStats(t *testing.T) {
	c := newMemTiered(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	c.Wait()
	c.Get(ctx, "k")
	c.Get(ctx, "absent")

	stats := c.Stats()
	if stats["mem_hits"].(int64) != 1 || stats["mem_misses"].(int64) != 1 {
		t.Errorf("stats = %v", stats)
	}
	if stats["shared_tier"].(bool) {
		t.Error("shared_tier reported without a redis client")
	}
}

func TestWindowCacheVersionedKeys(t *testing.T) {
	tiered := newMemTiered(t)
	w := NewWindowCache(tiered)
	ctx := context.Background()

	rendered := []byte("[#1 user full] hello\n")
	w.Put(ctx, "conv", "node", 3, 4096, rendered)
	tiered.Wait()

	got, ok := w.Get(ctx, "conv", "node", 3, 4096)
	if !ok || string(got) != string(rendered) {
		t.Errorf("Get = %q ok=%v", got, ok)
	}

	// Any advance of the graph version misses; stale windows are never
	// served.
	if _, ok := w.Get(ctx, "conv", "node", 4, 4096); ok {
		t.Error("stale version served")
	}
	// A different budget is a different window.
	if _, ok := w.Get(ctx, "conv", "node", 3, 2048); ok {
		t.Error("window for another budget served")
	}
}

func TestWindowCacheNilSafe(t *testing.T) {
	var w *WindowCache
	ctx := context.Background()

	w.Put(ctx, "c", "n", 1, 100, []byte("x"))
	if _, ok := w.Get(ctx, "c", "n", 1, 100); ok {
		t.Error("nil cache reported a hit")
	}
}
