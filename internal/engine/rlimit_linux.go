//go:build linux

package engine

import "golang.org/x/sys/unix"

const (
	rlimitCPU     = unix.RLIMIT_CPU
	rlimitFSIZE   = unix.RLIMIT_FSIZE
	rlimitDATA    = unix.RLIMIT_DATA
	rlimitSTACK   = unix.RLIMIT_STACK
	rlimitCORE    = unix.RLIMIT_CORE
	rlimitRSS     = unix.RLIMIT_RSS
	rlimitNPROC   = unix.RLIMIT_NPROC
	rlimitNOFILE  = unix.RLIMIT_NOFILE
	rlimitAS      = unix.RLIMIT_AS
	rlimitMEMLOCK = unix.RLIMIT_MEMLOCK
)
