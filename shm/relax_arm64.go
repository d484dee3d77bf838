// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - ARM64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: ARM64 Spin-Wait Hint
//
// Description:
//   YIELD counterpart of relax_amd64.go for the pre-sleep spin of semaphore waits.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build arm64 && cgo && !noasm

package shm

/*
static inline void cpu_yield() {
    __asm__ __volatile__("yield" ::: "memory");
}
*/
import "C"

// Relax emits the ARM64 YIELD instruction.
//
//go:norace
//go:nocheckptr
func Relax() {
	C.cpu_yield()
}
