// Package oracle spawns the oracle executable against one candidate input,
// streams the candidate bytes to it, enforces a per-invocation timeout and
// resource limits, and reports its verdict (spec §4.5).
//
// The process-group-kill pattern here is lifted straight from the
// teacher's agent runners (internal/agent/claude.go): Setpgid on the
// child so the whole invocation (and anything it forks) dies together,
// and a Cancel hook that signals the negative pid.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agusx1211/halfreduce/internal/obslog"
)

// Verdict is the outcome of one oracle invocation.
type Verdict struct {
	// ExitCode is the oracle's exit status, or -1 if it was killed by a
	// signal (including our own timeout kill).
	ExitCode int
	// Elapsed is the wall-clock duration of the invocation.
	Elapsed time.Duration
	// Signaled reports whether the child died by signal rather than
	// exiting normally.
	Signaled bool
}

// Success reports whether the verdict represents oracle exit code 0 — the
// sole criterion for "the property of interest holds" (spec §6).
func (v Verdict) Success() bool { return !v.Signaled && v.ExitCode == 0 }

// Runner holds the process-wide knobs needed to invoke the oracle:
// command line, timeout, kill signal, rlimits, and debug hooks. It is
// built once from engine.Config and shared (read-only) by every worker,
// matching the teacher's "centralise configuration, workers capture a
// reference" guidance (spec §9).
type Runner struct {
	Oracle          []string // oracle path + fixed args
	MaxProcessTime  time.Duration
	KillSignal      syscall.Signal
	Rlimits         []Rlimit
	NoTerminate     bool // -k: never signal a mispredicted/timed-out child
	InheritStdout   bool
	InheritStderr   bool
	DisableASLR     bool
	DebugSleep      time.Duration // --sleep: pre-exec delay, for reproducing races
}

// Rlimit is one --limit NAME=VALUE resource limit to apply to the oracle
// child before exec.
type Rlimit struct {
	Resource int // an unix.RLIMIT_* constant
	Value    uint64
}

// Invoke runs the oracle once against data, returning its verdict. childPID
// is written back (via the out param pattern the teacher uses for pids
// elsewhere) as soon as the process starts, so a concurrently-racing
// cancellation can target it; it is always 0 before start and left
// unchanged (not zeroed) after Invoke returns — callers own clearing it
// under their own task mutex, mirroring the reaper's exclusive right to
// clear Task.ChildPID (spec §4.3).
func (r *Runner) Invoke(ctx context.Context, data io.Reader, size int64, onStart func(pid int)) (Verdict, error) {
	if len(r.Oracle) == 0 {
		return Verdict{}, errors.New("oracle: no command configured")
	}

	if r.DebugSleep > 0 {
		// The original spawns a pre-exec hook that delays inside the
		// child; os/exec has no portable pre-exec callback, so the
		// equivalent delay happens here instead, just before Start.
		time.Sleep(r.DebugSleep)
	}

	name, args := r.Oracle[0], r.Oracle[1:]
	if r.DisableASLR {
		name, args = wrapDisableASLR(name, args)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if r.NoTerminate || cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, r.killSignal())
	}

	cmd.Stdin = data
	if r.InheritStdout {
		cmd.Stdout = os.Stdout
	} else {
		cmd.Stdout = nil
	}
	if r.InheritStderr {
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Verdict{}, fmt.Errorf("oracle: start: %w", err)
	}
	if err := r.applyPostStart(cmd); err != nil {
		obslog.Warn("oracle", "post-start setup failed", "err", err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	var watchdog *time.Timer
	if r.MaxProcessTime > 0 {
		watchdog = time.AfterFunc(r.MaxProcessTime, func() {
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, unix.SIGALRM)
			}
		})
	}

	err := cmd.Wait()
	if err != nil && r.NoTerminate && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// Cancel sends no signal under NoTerminate, so a child that exits 0
		// after ctx ends gives a real verdict; Wait reports ctx.Err() for it.
		err = nil
	}
	elapsed := time.Since(start)
	if watchdog != nil {
		watchdog.Stop()
	}

	v := Verdict{Elapsed: elapsed}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		v.ExitCode = 0
	case errors.As(err, &exitErr):
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			v.Signaled = true
			v.ExitCode = -1
		} else {
			v.ExitCode = exitErr.ExitCode()
		}
	default:
		return v, fmt.Errorf("oracle: wait: %w", err)
	}
	return v, nil
}

func (r *Runner) killSignal() syscall.Signal {
	if r.KillSignal != 0 {
		return r.KillSignal
	}
	return syscall.SIGTERM
}

// applyPostStart applies the --limit rlimits to the already-started child
// (on Linux via prlimit(2); see limits_linux.go), since Go's os/exec does
// not expose a portable pre-exec callback. ASLR is disabled separately by
// wrapping the command in setarch -R, and the debug sleep happens in this
// process before Start. Kept as a single hook so platform-specific
// variants can replace it.
func (r *Runner) applyPostStart(cmd *exec.Cmd) error {
	return applyPlatformLimits(cmd, r)
}

// KillGroup sends sig to the process group led by pid (negative pid is
// "whole group", spec §4.3/§4.5). A no-op if pid is not positive.
func KillGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}

// Reap non-blockingly waits for pid so it does not become a zombie,
// ignoring "no such process" and "not a child" errors (the process may
// already have been reaped by cmd.Wait). Used by the reaper pool (§4.3).
func Reap(pid int) {
	if pid <= 0 {
		return
	}
	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
}
