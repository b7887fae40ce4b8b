//go:build !linux

package engine

// Non-Linux platforms don't get prlimit(2) application (internal/oracle's
// limits_other.go no-ops it), but --limit is still parsed and validated;
// these indices just need to be distinct.
const (
	rlimitCPU = iota
	rlimitFSIZE
	rlimitDATA
	rlimitSTACK
	rlimitCORE
	rlimitRSS
	rlimitNPROC
	rlimitNOFILE
	rlimitAS
	rlimitMEMLOCK
)
