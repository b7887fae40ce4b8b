//go:build linux

package oracle

import (
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// applyPlatformLimits applies rlimits to an already-started child via
// prlimit(2). Go's os/exec has no generic pre-exec hook (unlike the
// original's glibc posix_spawn-style pre-exec callback in proc.c), so
// there is an inherent — and in practice harmless for CPU/AS/FSIZE style
// limits — race between Start() and the child reaching its hot path.
func applyPlatformLimits(cmd *exec.Cmd, r *Runner) error {
	if cmd.Process == nil || len(r.Rlimits) == 0 {
		return nil
	}
	var firstErr error
	for _, rl := range r.Rlimits {
		lim := unix.Rlimit{Cur: rl.Value, Max: rl.Value}
		if err := unix.Prlimit(cmd.Process.Pid, rl.Resource, &lim, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wrapDisableASLR rewrites a command line so the oracle runs under
// setarch -R, disabling address-space layout randomisation the way the
// original's personality(ADDR_NO_RANDOMIZE) pre-exec hook does. Falls back
// to running the oracle unwrapped (ASLR left enabled) if setarch is not on
// PATH or the machine architecture can't be determined — a best-effort
// debug aid, never a correctness requirement.
func wrapDisableASLR(name string, args []string) (string, []string) {
	setarch, err := exec.LookPath("setarch")
	if err != nil {
		return name, args
	}
	arch, err := unameMachine()
	if err != nil {
		return name, args
	}
	full := append([]string{arch, "-R", name}, args...)
	return setarch, full
}

func unameMachine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return strings.TrimRight(string(uts.Machine[:]), "\x00"), nil
}
