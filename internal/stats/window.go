package stats

import "sync"

// Window is a fixed-capacity rolling window of scores backed by a ring
// buffer. Once full, new observations overwrite the oldest. Reads return a
// copy so callers always observe a consistent snapshot while writers append.
type Window struct {
	values   []float64
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewWindow creates a rolling window holding up to capacity scores.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		values:   make([]float64, capacity),
		capacity: capacity,
	}
}

// Push adds a score, evicting the oldest when full.
func (w *Window) Push(v float64) {
	w.mu.Lock()
	w.values[w.head] = v
	w.head = (w.head + 1) % w.capacity
	if w.size < w.capacity {
		w.size++
	}
	w.mu.Unlock()
}

// Len returns the number of scores currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Capacity returns the maximum number of scores held.
func (w *Window) Capacity() int {
	return w.capacity
}

// Snapshot returns the held scores, oldest first, as a fresh slice.
func (w *Window) Snapshot() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		idx := (w.head - w.size + i + w.capacity) % w.capacity
		out[i] = w.values[idx]
	}
	return out
}

// Restore replaces the window contents with values, keeping at most the
// last capacity entries. Used when rehydrating a persisted profile.
func (w *Window) Restore(values []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.size = 0
	start := 0
	if len(values) > w.capacity {
		start = len(values) - w.capacity
	}
	for _, v := range values[start:] {
		w.values[w.head] = v
		w.head = (w.head + 1) % w.capacity
		if w.size < w.capacity {
			w.size++
		}
	}
}
