// Package workerpool provides the bounded-concurrency execution pools used
// for both the oracle worker pool (kProcessThreads) and, via the same
// primitive, anywhere else the engine needs "run up to N of these at
// once". Sizing is a weighted semaphore from golang.org/x/sync, and
// lifetime/error aggregation is an errgroup.Group — the idiomatic Go
// answer to the teacher's own hand-rolled sync.WaitGroup-based pool
// (internal/orchestrator's spawnWG), generalized to also report the first
// unexpected internal error.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs jobs with at most N concurrently in flight.
type Pool struct {
	sem *semaphore.Weighted
	grp *errgroup.Group
	ctx context.Context
}

// New returns a Pool bounded to n concurrent jobs, derived from ctx (job
// submission and execution both observe ctx's cancellation).
func New(ctx context.Context, n int) *Pool {
	if n < 1 {
		n = 1
	}
	grp, gctx := errgroup.WithContext(ctx)
	return &Pool{sem: semaphore.NewWeighted(int64(n)), grp: grp, ctx: gctx}
}

// Submit returns immediately, scheduling fn to run on a new goroutine as
// soon as a slot is free (or ctx is done). Submit itself never blocks —
// the semaphore wait happens inside the spawned goroutine — so callers
// may hold other locks (e.g. the speculation tree lock) across Submit
// without risking holding them across an oracle invocation (spec §5: the
// tree lock is "never held across oracle invocation"). A non-nil error
// from fn is recorded and later surfaced from Wait (the first one wins,
// matching errgroup semantics) — used for internal invariant violations,
// never for oracle verdicts (those are encoded as task status, spec §7).
func (p *Pool) Submit(fn func(ctx context.Context) error) {
	p.grp.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
}

// Wait blocks until every submitted job has returned, and returns the
// first error (if any).
func (p *Pool) Wait() error { return p.grp.Wait() }

// Context returns the pool's derived context, cancelled on first error or
// parent cancellation.
func (p *Pool) Context() context.Context { return p.ctx }
