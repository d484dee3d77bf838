// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - AMD64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: x86-64 Spin-Wait Hint
//
// Description:
//   Emits PAUSE inside the short spin that precedes every futex sleep, so a semaphore that is
//   posted within a few hundred cycles is picked up without a kernel round trip.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build amd64 && cgo && !noasm

package shm

/*
static inline void cpu_pause() {
    __asm__ __volatile__("pause" ::: "memory");
}
*/
import "C"

// Relax emits the x86-64 PAUSE instruction.
//
//go:norace
//go:nocheckptr
func Relax() {
	C.cpu_pause()
}
