//go:build !linux

// futex_other.go
//
// Portable stand-in for platforms without futex(2): waiters sleep a short
// slice and re-check, wakes are no-ops. Semantics are unchanged, only the
// wake-up latency grows.

package shm

import (
	"sync/atomic"
	"time"
)

const pollSlice = time.Millisecond

// Wait sleeps briefly while *addr == val, never longer than slice.
func Wait(addr *uint32, val uint32, slice time.Duration) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	if slice > pollSlice {
		slice = pollSlice
	}
	time.Sleep(slice)
}

// Wake is a no-op; sleepers notice the change on their next poll.
func Wake(addr *uint32, n int) {}
