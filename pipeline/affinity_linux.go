//go:build linux

// affinity_linux.go
//
// Binds the calling OS thread to one logical CPU via sched_setaffinity(2).
// The caller must hold runtime.LockOSThread for the pin to mean anything.

package pipeline

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin to cpu %d: %w", cpu, err)
	}
	return nil
}
