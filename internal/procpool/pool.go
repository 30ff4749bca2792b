// Package procpool bounds how many external processes (agent commands,
// quality checks) run at once.
package procpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent process executions using a weighted semaphore.
type Pool struct {
	sem    *semaphore.Weighted
	limit  int
	active atomic.Int64
}

// New creates a Pool that allows at most limit concurrent executions.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn, and releases the slot. It returns ctx.Err()
// if ctx ends while waiting. A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.sem.Release(1)
	}()
	return fn()
}

// Limit returns the configured concurrency limit.
func (p *Pool) Limit() int { return p.limit }

// Active returns the number of executions currently holding a slot.
func (p *Pool) Active() int { return int(p.active.Load()) }
