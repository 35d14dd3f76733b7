package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Budget reports whether a fan-out consumed its whole time allowance.
type Budget struct {
	ctx context.Context
	hit atomic.Bool
}

// Hit reports whether the deadline fired before the work finished.
func (b *Budget) Hit() bool {
	if b == nil {
		return false
	}
	if b.hit.Load() {
		return true
	}
	// Checking the context directly keeps Hit accurate even when the
	// caller asks before the watcher goroutine has run.
	if b.ctx != nil && errors.Is(b.ctx.Err(), context.DeadlineExceeded) {
		b.hit.Store(true)
		return true
	}
	return false
}

// WithBudget derives a context bounded by budgetMS milliseconds that
// covers a whole fan-out. A budget of zero or less leaves the parent
// unbounded. The returned Budget records whether the deadline fired.
func WithBudget(parent context.Context, budgetMS int, metrics *Metrics) (context.Context, context.CancelFunc, *Budget) {
	if parent == nil {
		parent = context.Background()
	}

	b := &Budget{}
	if budgetMS <= 0 {
		ctx, cancel := context.WithCancel(parent)
		return ctx, cancel, b
	}

	ctx, cancel := context.WithTimeout(parent, time.Duration(budgetMS)*time.Millisecond)
	b.ctx = ctx
	go func() {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			b.hit.Store(true)
			metrics.IncBudgetHit()
		}
	}()
	return ctx, cancel, b
}
