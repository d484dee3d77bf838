//go:build !linux

// affinity_other.go
//
// CPU pinning is a no-op where sched_setaffinity(2) does not exist; the
// consumer still runs on its locked OS thread.

package pipeline

func setAffinity(cpu int) error { return nil }
