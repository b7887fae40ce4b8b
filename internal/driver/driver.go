// Package driver implements the single-threaded generator/driver loop
// that grows the speculation tree, decides where to place new speculative
// work, and detects termination (spec §4.1). It is the one "thread" in
// spec §5's concurrency model that calls into the strategy and mutates
// tree shape; workers and the reaper only ever touch individual tasks.
//
// Grounded in the teacher's internal/looprun/runner.go: a single generator
// loop with a bounded prefetch window, condvar-backed backoff, and a
// snapshot callback for progress reporting — generalized here from
// "supervise N agent turns" to "walk and extend a speculation tree".
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agusx1211/halfreduce/internal/candidate"
	"github.com/agusx1211/halfreduce/internal/obslog"
	"github.com/agusx1211/halfreduce/internal/oracle"
	"github.com/agusx1211/halfreduce/internal/reaper"
	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/strategy"
	"github.com/agusx1211/halfreduce/internal/task"
	"github.com/agusx1211/halfreduce/internal/workerpool"
)

// ErrVerificationFailed is returned when kVerifyInput is set and the
// original input did not satisfy the oracle (spec §4.1 Failure clause).
var ErrVerificationFailed = errors.New("driver: input failed oracle verification")

// Config holds the driver's process-wide knobs, built once and shared
// read-only by the driver and its pools (spec §9 "centralise them in an
// immutable configuration value").
type Config struct {
	MaxUnprocessed int           // kMaxUnprocessed
	MaxWaitTime    time.Duration // kMaxWaitTime
	MaxTreeDepth   int           // kMaxTreeDepth
	PollDelay      time.Duration // kWorkerPollDelay, per-backoff-step unit
	VerifyInput    bool          // kVerifyInput
	ForceCollapse  bool          // --collapse debug flag: collapse every pass
	TempDir        string
}

// DefaultConfig returns halfreduce's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxUnprocessed: 64,
		MaxWaitTime:    5 * time.Second,
		MaxTreeDepth:   32,
		PollDelay:      50 * time.Microsecond,
		VerifyInput:    true,
	}
}

// Snapshot is a point-in-time progress summary, published after every
// tree mutation and at completion, consumed by internal/progress and
// internal/monitorweb.
type Snapshot struct {
	NodeCount     int
	BestSize      int64
	BestDepth     int
	Unprocessed   int64
	CollapsedTime time.Duration
	Elapsed       time.Duration
	Done          bool
}

// Driver runs exactly one bisection search (spec §4.1's single entry
// point). It is not reusable across searches; callers wanting --stable's
// repeat-until-stable behavior construct a fresh Driver per iteration
// (internal/engine does this).
type Driver struct {
	cfg     Config
	runner  *oracle.Runner
	strat   strategy.Strategy
	workers *workerpool.Pool
	reapers *reaper.Pool

	tree        *spectree.Tree
	unprocessed int64 // atomic: in-flight worker jobs (spec §4.1 step 1)
	start       time.Time

	// OnSnapshot, if set, is invoked after each driver pass and once more
	// at completion. It must not block or call back into the driver.
	OnSnapshot func(Snapshot)
}

// New builds a Driver. workers and reapers are already-running pools
// sized per internal/engine's reading of -P/--cleanup-threads.
func New(cfg Config, runner *oracle.Runner, strat strategy.Strategy, workers *workerpool.Pool, reapers *reaper.Pool) *Driver {
	return &Driver{cfg: cfg, runner: runner, strat: strat, workers: workers, reapers: reapers}
}

// Tree returns the in-progress speculation tree, for internal/dotgraph and
// internal/monitorweb to render. Only safe to read (via tree.Lock) once
// Build has been called.
func (d *Driver) Tree() *spectree.Tree { return d.tree }

// Build runs the driver algorithm to completion: seeds the root from
// input (kVerifyInput permitting), grows the tree one mutation at a time,
// and returns a duplicate descriptor of the smallest Success task's bytes
// (spec §4.1's success postcondition). input is never closed or held by
// the returned state — the driver clones it into its own anonymous file.
func (d *Driver) Build(ctx context.Context, input io.ReaderAt, size int64) (*os.File, error) {
	d.start = time.Now()

	rootFile, err := candidate.Clone(input, size, d.cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("driver: clone input: %w", err)
	}
	rootTask := task.New(rootFile, size)

	if d.cfg.VerifyInput {
		v, err := d.runOracle(ctx, rootTask)
		if err != nil {
			rootTask.Mu.Lock()
			rootTask.Retire()
			rootTask.Mu.Unlock()
			return nil, fmt.Errorf("driver: verify input: %w", err)
		}
		if !v.Success() {
			rootTask.Mu.Lock()
			rootTask.Retire()
			rootTask.Mu.Unlock()
			return nil, ErrVerificationFailed
		}
	}
	rootTask.Status = task.Success

	d.strat.Init(rootTask)
	d.tree = spectree.New(rootTask)

	if err := d.loop(ctx); err != nil {
		return nil, err
	}
	return d.finish()
}

// loop is the driver algorithm of spec §4.1, one pass per tree mutation.
func (d *Driver) loop(ctx context.Context) error {
	backoff := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.tree.Lock()

		d.waitForCapacityLocked()

		if d.cfg.ForceCollapse || d.tree.Height() > d.cfg.MaxTreeDepth {
			retired := d.tree.Collapse()
			if len(retired) > 0 {
				d.reapers.EnqueueAll(retired)
				obslog.Debug("driver", "collapsed finalized prefix", "retired", len(retired))
			}
		}

		cur := d.tree.Root()
		for {
			if d.tree.IsPlaceholder(cur) {
				break
			}
			next := d.tree.Child(cur, d.tree.Status(cur) == task.Success)
			if next == spectree.Invalid {
				break
			}
			cur = next
		}

		placeholder := d.tree.IsPlaceholder(cur)
		extendFrom := cur
		if placeholder {
			extendFrom = d.tree.Parent(cur)
		}

		child, err := d.strat.Extend(d.tree, extendFrom)
		if err != nil {
			// Transient I/O failure building a candidate: the strategy has
			// already logged specifics; treat it as end-of-search along
			// this branch (spec §7).
			obslog.Warn("driver", "strategy extend failed, treating as end of branch", "err", err)
			child = nil
		}

		if child == nil {
			done := d.tree.Finalized(extendFrom)
			d.tree.Unlock()
			if done {
				return nil
			}
			backoff++
			time.Sleep(d.cfg.PollDelay * time.Duration(backoff))
			continue
		}

		var newID spectree.NodeID
		if placeholder {
			d.tree.Promote(cur, child)
			newID = cur
		} else {
			realBranch := d.tree.Status(cur) == task.Success
			newID = d.tree.NewChild(cur, realBranch, child)
			d.tree.NewPlaceholder(cur, !realBranch)
		}
		d.enqueueLocked(newID)
		backoff = 0

		snap := d.snapshotLocked(false)
		d.tree.Unlock()
		if d.OnSnapshot != nil {
			d.OnSnapshot(snap)
		}
	}
}

// finish waits for outstanding work to drain, polls until the reaper queue
// is empty (spec §4.1's termination guarantee), and extracts the result.
func (d *Driver) finish() (*os.File, error) {
	if err := d.workers.Wait(); err != nil {
		return nil, fmt.Errorf("driver: worker pool: %w", err)
	}
	for !d.reapers.Idle() {
		time.Sleep(time.Millisecond)
	}

	d.tree.Lock()
	best := d.tree.FindFinalizedNode(d.tree.Root(), true)
	snap := d.snapshotLocked(true)
	d.tree.Unlock()
	if d.OnSnapshot != nil {
		d.OnSnapshot(snap)
	}

	if best == spectree.Invalid {
		return nil, errors.New("driver: internal invariant violation: no success node found at termination")
	}
	bt := d.tree.Task(best)
	bt.Mu.Lock()
	defer bt.Mu.Unlock()
	return dupFile(bt.Bytes)
}

// waitForCapacityLocked implements step 1 of the driver algorithm: if the
// number of unprocessed jobs exceeds kMaxUnprocessed, wait on the tree
// condition variable, bounded by kMaxWaitTime. Caller holds the tree lock.
func (d *Driver) waitForCapacityLocked() {
	if d.cfg.MaxUnprocessed <= 0 {
		return
	}
	for atomic.LoadInt64(&d.unprocessed) > int64(d.cfg.MaxUnprocessed) {
		wait := d.cfg.MaxWaitTime
		if wait <= 0 {
			wait = 5 * time.Second
		}
		timer := time.AfterFunc(wait, func() { d.tree.Cond().Broadcast() })
		d.tree.Cond().Wait()
		timer.Stop()
	}
}

// enqueueLocked submits id's task to the worker pool. Caller holds the
// tree lock; Submit itself never blocks (spec §5: "tree_lock is never
// held across oracle invocation").
func (d *Driver) enqueueLocked(id spectree.NodeID) {
	tk := d.tree.Task(id)
	atomic.AddInt64(&d.unprocessed, 1)
	d.workers.Submit(func(ctx context.Context) error {
		defer atomic.AddInt64(&d.unprocessed, -1)
		defer d.tree.Cond().Broadcast()
		return d.runWorker(ctx, id, tk)
	})
}

// runWorker is the per-Task worker callback of spec §4.1.
func (d *Driver) runWorker(ctx context.Context, id spectree.NodeID, tk *task.Task) error {
	tk.Mu.Lock()
	switch tk.Status {
	case task.Discarded:
		tk.Mu.Unlock()
		return nil
	case task.Pending:
		tk.Mu.Unlock()
	default:
		status := tk.Status
		tk.Mu.Unlock()
		return fmt.Errorf("driver: invariant violation: worker observed non-pending task (status=%s)", status)
	}

	verdict, err := d.runOracle(ctx, tk)
	if err != nil {
		obslog.Warn("worker", "oracle invocation error, treating as failure", "err", err)
	}

	tk.Mu.Lock()
	if tk.Status != task.Pending {
		// The reaper discarded this task while its oracle ran; Discarded
		// is final, so the verdict is dropped.
		tk.Mu.Unlock()
		return nil
	}
	if err != nil {
		tk.SetResult(false, 0)
	} else {
		tk.SetResult(verdict.Success(), verdict.Elapsed)
	}
	succeeded := tk.Status == task.Success
	tk.Mu.Unlock()

	if succeeded {
		d.tree.Lock()
		sibling := d.tree.Child(id, false)
		d.tree.Unlock()
		if sibling != spectree.Invalid {
			d.abortSubtree(sibling)
		}
	} else {
		d.reapers.Enqueue(tk)
	}
	return nil
}

// abortSubtree implements abort_pending_tasks (spec §4.3): traverse a
// subtree under the tree lock and enqueue every task found on the reaper.
func (d *Driver) abortSubtree(root spectree.NodeID) {
	var tasks []*task.Task
	d.tree.Lock()
	d.tree.Walk(root, func(id spectree.NodeID) bool {
		if tk := d.tree.Task(id); tk != nil {
			tasks = append(tasks, tk)
		}
		return true
	})
	d.tree.Unlock()
	if len(tasks) > 0 {
		d.reapers.EnqueueAll(tasks)
	}
}

// runOracle streams tk's bytes to the oracle runner and records its pid.
func (d *Driver) runOracle(ctx context.Context, tk *task.Task) (oracle.Verdict, error) {
	tk.Mu.Lock()
	f, size := tk.Bytes, tk.Size
	tk.Mu.Unlock()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return oracle.Verdict{}, fmt.Errorf("driver: rewind candidate: %w", err)
	}
	return d.runner.Invoke(ctx, f, size, func(pid int) {
		tk.Mu.Lock()
		tk.ChildPID = pid
		tk.Mu.Unlock()
	})
}

// snapshotLocked builds a progress Snapshot. Caller holds the tree lock.
func (d *Driver) snapshotLocked(done bool) Snapshot {
	best := d.tree.FindFinalizedNode(d.tree.Root(), true)
	s := Snapshot{
		Unprocessed:   atomic.LoadInt64(&d.unprocessed),
		CollapsedTime: d.tree.CollapsedTime(),
		Elapsed:       time.Since(d.start),
		Done:          done,
	}
	n := 0
	d.tree.Walk(d.tree.Root(), func(spectree.NodeID) bool { n++; return true })
	s.NodeCount = n
	if best != spectree.Invalid {
		bt := d.tree.Task(best)
		bt.Mu.Lock()
		s.BestSize = bt.Size
		bt.Mu.Unlock()
		depth := 0
		for p := best; p != d.tree.Root(); p = d.tree.Parent(p) {
			depth++
		}
		s.BestDepth = depth
	}
	return s
}

func dupFile(f *os.File) (*os.File, error) {
	fd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("driver: duplicate result descriptor: %w", err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}
