// Package reaper implements the cancellation/reaper pool (spec §4.3): an
// unbounded queue of tasks to tear down, serviced by kCleanupThreads
// goroutines that close descriptors, signal and reap child processes, and
// flip Pending tasks to Discarded.
package reaper

import (
	"sync"
	"syscall"

	"github.com/agusx1211/halfreduce/internal/obslog"
	"github.com/agusx1211/halfreduce/internal/oracle"
	"github.com/agusx1211/halfreduce/internal/task"
)

// Pool is the reaper pool. Its queue is unbounded (a task never blocks
// trying to get retired) — threads spend most of their time blocked on
// per-task mutexes held by workers, exactly as spec §4.3 describes.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*task.Task
	closed bool
	wg     sync.WaitGroup

	killSignal  syscall.Signal
	noTerminate bool
}

// New starts a reaper Pool with the given thread count, signal, and
// -k/--no-terminate policy (spec §4.3, §6).
func New(threads int, killSignal syscall.Signal, noTerminate bool) *Pool {
	if threads < 1 {
		threads = 1
	}
	p := &Pool{killSignal: killSignal, noTerminate: noTerminate}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(threads)
	for i := 0; i < threads; i++ {
		go p.loop()
	}
	return p
}

// Enqueue schedules t for teardown. Safe to call from any goroutine,
// including from within the tree lock (the driver and workers both do).
func (p *Pool) Enqueue(t *task.Task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.cond.Signal()
	p.mu.Unlock()
}

// EnqueueAll schedules every task in ts.
func (p *Pool) EnqueueAll(ts []*task.Task) {
	if len(ts) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, ts...)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.retire(t)
	}
}

// retire implements the three reaper steps in spec §4.3.
func (p *Pool) retire(t *task.Task) {
	t.Mu.Lock()
	pid := t.ChildPID
	if t.Status == task.Pending {
		t.Status = task.Discarded
	}
	t.Mu.Unlock()

	if pid > 0 && !p.noTerminate {
		if err := oracle.KillGroup(pid, p.killSignal); err != nil {
			obslog.Debug("reaper", "kill group failed (likely already exited)", "pid", pid, "err", err)
		}
	}

	t.Mu.Lock()
	t.Retire()
	t.Mu.Unlock()

	if pid > 0 {
		oracle.Reap(pid)
	}
}

// Idle reports whether the queue is currently empty. The driver polls it
// before termination (spec §4.1: "the worker queue is guaranteed
// empty"); it is a snapshot, not a synchronization point.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0
}

// Close stops accepting new conceptual work once the queue drains, and
// blocks until every reaper goroutine has exited. Any tasks enqueued
// after Close is called are not guaranteed to run.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
