package summarize

import (
	"sync"
	"time"
)

// costBudget caps condenser calls per UTC day. Once spent, enqueue
// requests are dropped until the day rolls over.
type costBudget struct {
	limit int

	mu    sync.Mutex
	day   string
	spent int
}

func newCostBudget(limit int) *costBudget {
	return &costBudget{limit: limit}
}

func (b *costBudget) rollLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.spent = 0
	}
}

// Exhausted reports whether the current day's budget is used up.
func (b *costBudget) Exhausted(now time.Time) bool {
	if b.limit <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(now)
	return b.spent >= b.limit
}

// Spend consumes one call from the budget. Returns false when none remain.
func (b *costBudget) Spend(now time.Time) bool {
	if b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(now)
	if b.spent >= b.limit {
		return false
	}
	b.spent++
	return true
}

// Spent returns the number of calls consumed today.
func (b *costBudget) Spent(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked(now)
	return b.spent
}
