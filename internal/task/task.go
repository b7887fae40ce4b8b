// Package task defines the unit of work the speculation tree schedules: one
// oracle trial against one candidate input.
package task

import (
	"os"
	"sync"
	"time"
)

// Status is a Task's lifecycle state. Every Task starts Pending and
// transitions exactly once to a terminal state.
type Status int

const (
	// Pending means the oracle has not yet returned a verdict.
	Pending Status = iota
	// Success means the oracle exited zero for this candidate.
	Success
	// Failure means the oracle exited non-zero, was killed, or timed out.
	Failure
	// Discarded means the reaper retired this task while it was still
	// Pending: before its oracle invocation ran, or while it was running
	// (in which case its verdict is dropped).
	Discarded
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Chunk is the strategy-private per-task state shared by the two shipped
// strategies (bisect and zero): an offset and a chunk size into the source
// bytes.
type Chunk struct {
	Offset    int64
	ChunkSize int64
}

// Task is a single candidate trial: the bytes submitted to the oracle, the
// verdict, and the process that produced it. All mutable fields are guarded
// by Mu; callers must hold Mu before touching Bytes, Size, Status, Timer, or
// ChildPID. Lock ordering throughout this module is tree lock (held by
// spectree) before Mu — workers never take the tree lock while holding Mu.
type Task struct {
	Mu sync.Mutex

	// Bytes is the anonymous, already-unlinked file holding the candidate
	// input. Nil once the reaper has closed it.
	Bytes *os.File
	// Size is the length of Bytes in bytes. Must equal the file's actual
	// length whenever Mu is held.
	Size int64

	// User is strategy-private state. The two shipped strategies store a
	// Chunk here.
	User Chunk

	Status Status

	// Timer is the wall-clock duration of the oracle invocation, set on
	// transition out of Pending.
	Timer time.Duration

	// ChildPID is the oracle's process-group leader pid while running, and
	// 0 when none is running (before start, and after the reaper clears
	// it).
	ChildPID int
}

// New returns a Pending task wrapping the given anonymous file.
func New(f *os.File, size int64) *Task {
	return &Task{
		Bytes:  f,
		Size:   size,
		Status: Pending,
	}
}

// SetResult records a terminal worker verdict (Success or Failure) along
// with the elapsed wall-clock time of the invocation. Must be called with
// Mu held.
func (t *Task) SetResult(ok bool, elapsed time.Duration) {
	if ok {
		t.Status = Success
	} else {
		t.Status = Failure
	}
	t.Timer = elapsed
}

// Retire closes Bytes (if still open) and clears ChildPID. Must be called
// with Mu held. The reaper calls it for discarded and failed tasks (spec.md
// §4.3); the driver also calls it on the root task when input verification
// fails.
func (t *Task) Retire() {
	if t.Bytes != nil {
		_ = t.Bytes.Close()
		t.Bytes = nil
	}
	t.ChildPID = 0
}
