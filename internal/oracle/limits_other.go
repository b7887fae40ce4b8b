//go:build !linux

package oracle

import "os/exec"

// applyPlatformLimits is a no-op outside Linux: the prlimit(2) call the
// Linux build uses has no portable equivalent. --limit is still parsed and
// validated by the CLI; it simply has no effect on non-Linux oracle
// invocations.
func applyPlatformLimits(cmd *exec.Cmd, r *Runner) error {
	return nil
}

// wrapDisableASLR is a no-op outside Linux.
func wrapDisableASLR(name string, args []string) (string, []string) {
	return name, args
}
