//go:build linux

// futex_linux.go
//
// Shared (non-private) futex wait/wake on words that live inside a MAP_SHARED
// file mapping. The kernel keys shared futexes by inode and offset, so every
// process that mapped the same file meets on the same wait queue.

package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0 // FUTEX_WAIT without FUTEX_PRIVATE_FLAG
	futexWake = 1 // FUTEX_WAKE without FUTEX_PRIVATE_FLAG
)

// Wait sleeps while *addr == val, for at most slice. It returns early on a
// wake, a signal or a value change; callers always re-check their condition.
//
//go:norace
func Wait(addr *uint32, val uint32, slice time.Duration) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	ts := unix.NsecToTimespec(int64(slice))
	// EAGAIN, EINTR and ETIMEDOUT all mean "look again".
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
}

// Wake wakes up to n waiters blocked on addr.
//
//go:norace
func Wake(addr *uint32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(n),
		0, 0, 0,
	)
}
