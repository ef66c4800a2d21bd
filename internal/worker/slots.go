package worker

import (
	"context"
	"sync"
)

// Slots bounds how many agents run at once across a fleet. It is shared by
// the workers of one orchestrator and can be resized while runs are live.
//
// A limit of 0 means unlimited. Resizing broadcasts to waiters so they
// re-check against the new limit.
type Slots struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	acquired int
}

// NewSlots creates a limiter. Negative limits are treated as unlimited.
func NewSlots(limit int) *Slots {
	if limit < 0 {
		limit = 0
	}
	s := &Slots{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a slot is free or ctx is done, in which case it
// returns context.Cause(ctx).
func (s *Slots) Acquire(ctx context.Context) error {
	// Wake waiters when ctx ends so they can observe it.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.limit > 0 && s.acquired >= s.limit {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	s.acquired++
	return nil
}

// Release frees a slot.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired > 0 {
		s.acquired--
	}
	s.cond.Broadcast()
}

// SetLimit changes the limit; 0 or negative means unlimited.
func (s *Slots) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.limit = n
	s.cond.Broadcast()
}

// Limit returns the current limit.
func (s *Slots) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// InUse returns the number of held slots.
func (s *Slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}
