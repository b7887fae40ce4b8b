package driver

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/halfreduce/internal/oracle"
	"github.com/agusx1211/halfreduce/internal/reaper"
	"github.com/agusx1211/halfreduce/internal/spectree"
	"github.com/agusx1211/halfreduce/internal/strategy"
	"github.com/agusx1211/halfreduce/internal/task"
	"github.com/agusx1211/halfreduce/internal/workerpool"
)

// shOracle builds a Runner that decides success by running a shell
// predicate against the candidate bytes on stdin. These are real
// subprocess invocations (/bin/sh, always present on the Linux hosts this
// runs on) rather than fakes, matching the integration shape the rest of
// the oracle-adjacent tests take.
func shOracle(t *testing.T, predicate string) *oracle.Runner {
	t.Helper()
	return &oracle.Runner{Oracle: []string{"/bin/sh", "-c", predicate}}
}

func newTestDriver(cfg Config, runner *oracle.Runner, strat strategy.Strategy) (*Driver, *workerpool.Pool, *reaper.Pool, context.Context) {
	ctx := context.Background()
	wp := workerpool.New(ctx, 1)
	rp := reaper.New(1, syscall.SIGTERM, false)
	return New(cfg, runner, strat, wp, rp), wp, rp, ctx
}

// TestBuildMinimizesToSmallestAcceptedInput runs the real driver loop, end
// to end, against a genuine (if trivial) oracle subprocess: keep chunks of
// the candidate that still contain the byte 'A'. Bisect must converge on
// the smallest accepted candidate, one byte of 'A'.
func TestBuildMinimizesToSmallestAcceptedInput(t *testing.T) {
	runner := shOracle(t, `case "$(cat)" in *A*) exit 0;; *) exit 1;; esac`)
	strat := strategy.NewBisect(strategy.BisectOptions{})
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()

	d, wp, rp, ctx := newTestDriver(cfg, runner, strat)
	defer rp.Close()
	_ = wp

	src, err := os.CreateTemp(t.TempDir(), "driver-input-")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.WriteString("AB")
	require.NoError(t, err)
	_, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)

	out, err := d.Build(ctx, src, 2)
	require.NoError(t, err)
	defer out.Close()

	_, err = out.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, err)

	assert.Equal(t, "A", string(data))
	assert.Contains(t, string(data), "A")
}

// TestBuildReturnsErrVerificationFailedWhenInputIsRejected checks the
// kVerifyInput precondition (spec §4.1): an oracle that never accepts
// anything must fail Build before any tree is even grown.
func TestBuildReturnsErrVerificationFailedWhenInputIsRejected(t *testing.T) {
	runner := shOracle(t, `cat >/dev/null; exit 1`)
	strat := strategy.NewBisect(strategy.BisectOptions{})
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()

	d, wp, rp, ctx := newTestDriver(cfg, runner, strat)
	defer rp.Close()
	_ = wp

	src, err := os.CreateTemp(t.TempDir(), "driver-input-")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.WriteString("xyz")
	require.NoError(t, err)
	_, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)

	_, err = d.Build(ctx, src, 3)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

// TestBuildSkipsVerificationWhenDisabled exercises the VerifyInput=false
// path by using an oracle that rejects every input, the root included:
// with verification on Build would fail, but here the oracle only ever
// runs on derived chunks, never the root itself.
func TestBuildSkipsVerificationWhenDisabled(t *testing.T) {
	runner := shOracle(t, `cat >/dev/null; exit 1`)
	strat := strategy.NewBisect(strategy.BisectOptions{})
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.VerifyInput = false

	d, wp, rp, ctx := newTestDriver(cfg, runner, strat)
	defer rp.Close()
	_ = wp

	src, err := os.CreateTemp(t.TempDir(), "driver-input-")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.WriteString("A")
	require.NoError(t, err)
	_, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)

	out, err := d.Build(ctx, src, 1)
	require.NoError(t, err)
	defer out.Close()
}

// TestBuildHonorsContextCancellation ensures a cancelled context aborts
// the driver loop instead of spinning forever.
func TestBuildHonorsContextCancellation(t *testing.T) {
	runner := shOracle(t, `cat >/dev/null; exit 0`)
	strat := strategy.NewBisect(strategy.BisectOptions{})
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()

	d, wp, rp, _ := newTestDriver(cfg, runner, strat)
	defer rp.Close()
	_ = wp

	src, err := os.CreateTemp(t.TempDir(), "driver-input-")
	require.NoError(t, err)
	defer src.Close()
	_, err = src.WriteString("hello")
	require.NoError(t, err)
	_, err = src.Seek(0, io.SeekStart)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.Build(ctx, src, 5)
	assert.Error(t, err)
}

// TestWaitForCapacityLockedBlocksUntilUnprocessedDrops drives the
// condvar-backed backoff of spec §4.1 step 1 directly, without a running
// pool: the wait must not return until unprocessed drops to the
// configured ceiling, and a Broadcast on the tree's Cond is what wakes it.
func TestWaitForCapacityLockedBlocksUntilUnprocessedDrops(t *testing.T) {
	rootTask := task.New(nil, 0)
	rootTask.Status = task.Success
	tr := spectree.New(rootTask)

	d := &Driver{cfg: Config{MaxUnprocessed: 1, MaxWaitTime: time.Second}, tree: tr}
	atomic.StoreInt64(&d.unprocessed, 2)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt64(&d.unprocessed, 1)
		tr.Lock()
		tr.Cond().Broadcast()
		tr.Unlock()
		close(released)
	}()

	start := time.Now()
	tr.Lock()
	d.waitForCapacityLocked()
	tr.Unlock()
	elapsed := time.Since(start)

	<-released
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt64(&d.unprocessed), int64(1))
}

// TestWaitForCapacityLockedNoOpWhenUnbounded checks the MaxUnprocessed<=0
// disables-the-check escape hatch.
func TestWaitForCapacityLockedNoOpWhenUnbounded(t *testing.T) {
	rootTask := task.New(nil, 0)
	rootTask.Status = task.Success
	tr := spectree.New(rootTask)

	d := &Driver{cfg: Config{MaxUnprocessed: 0}, tree: tr}
	atomic.StoreInt64(&d.unprocessed, 1000)

	done := make(chan struct{})
	go func() {
		tr.Lock()
		d.waitForCapacityLocked()
		tr.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForCapacityLocked blocked despite MaxUnprocessed<=0")
	}
}

// TestAbortSubtreeEnqueuesEveryDescendant verifies abort_pending_tasks
// (spec §4.3): every task node under root, regardless of depth, is handed
// to the reaper, and placeholders are skipped (they carry no task).
func TestAbortSubtreeEnqueuesEveryDescendant(t *testing.T) {
	rootTask := task.New(nil, 0)
	rootTask.Status = task.Success
	tr := spectree.New(rootTask)
	tr.Lock()

	childA := task.New(mustTempFile(t, "a"), 1)
	childA.Status = task.Pending
	idA := tr.NewChild(tr.Root(), false, childA)

	childB := task.New(mustTempFile(t, "b"), 1)
	childB.Status = task.Pending
	idB := tr.NewChild(idA, true, childB)
	_ = idB

	tr.NewPlaceholder(idA, false)
	tr.Unlock()

	rp := reaper.New(2, syscall.SIGTERM, false)
	defer rp.Close()
	d := &Driver{tree: tr, reapers: rp}

	d.abortSubtree(idA)

	require.Eventually(t, rp.Idle, time.Second, time.Millisecond)

	childA.Mu.Lock()
	assert.Equal(t, task.Discarded, childA.Status)
	assert.Nil(t, childA.Bytes)
	childA.Mu.Unlock()

	childB.Mu.Lock()
	assert.Equal(t, task.Discarded, childB.Status)
	childB.Mu.Unlock()
}

// TestSnapshotLockedReportsBestSuccessAndNodeCount exercises the progress
// summary built after every tree mutation.
func TestSnapshotLockedReportsBestSuccessAndNodeCount(t *testing.T) {
	rootTask := task.New(mustTempFile(t, "root"), 4)
	rootTask.Status = task.Success
	tr := spectree.New(rootTask)
	tr.Lock()

	shrunk := task.New(mustTempFile(t, "ro"), 2)
	shrunk.Status = task.Success
	tr.NewChild(tr.Root(), true, shrunk)
	tr.Unlock()

	d := &Driver{tree: tr, start: time.Now()}

	tr.Lock()
	snap := d.snapshotLocked(false)
	tr.Unlock()

	assert.Equal(t, int64(2), snap.BestSize)
	assert.Equal(t, 1, snap.BestDepth)
	assert.GreaterOrEqual(t, snap.NodeCount, 2)
	assert.False(t, snap.Done)
}

func mustTempFile(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "driver-task-")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return f
}
