// control.go — Process-local cancellation flag for producer/consumer loops
// ============================================================================
// PROCESS SHUTDOWN COORDINATION
// ============================================================================
//
// Control holds the single stop flag a word process polls at every suspension
// point. Cancellation never crosses process boundaries: each producer or
// consumer reacts only to its own SIGINT/SIGTERM, and the shared buffer sees
// nothing but the ordinary semaphore traffic that follows.
//
// Architecture overview:
//   • One global uint32 stop flag, read and written atomically
//   • Flags() hands out the raw pointer for loops that take a *uint32
//   • Notify() wires SIGINT/SIGTERM to Shutdown()
//
// Threading model:
//   • The signal goroutine is the only writer in production
//   • Semaphore waits and role loops are readers

package control

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// ============================================================================
// GLOBAL STATE MANAGEMENT
// ============================================================================

var (
	// stop is 1 once shutdown has been requested, 0 while running.
	stop uint32

	// signals counts delivered termination signals, for diagnostics.
	signals uint32
)

// ============================================================================
// SYSTEM SHUTDOWN
// ============================================================================

// Shutdown requests cooperative termination. Idempotent.
func Shutdown() {
	atomic.StoreUint32(&stop, 1)
}

// Stopping reports whether Shutdown has been called.
func Stopping() bool {
	return atomic.LoadUint32(&stop) != 0
}

// Stopped reports whether the flag behind p is set. A nil pointer never
// stops, which lets tests and one-shot tools pass no flag at all.
func Stopped(p *uint32) bool {
	return p != nil && atomic.LoadUint32(p) != 0
}

// Flags returns the address of the global stop flag for loops and waits
// that poll a *uint32.
func Flags() *uint32 {
	return &stop
}

// Signals returns how many termination signals have been received.
func Signals() uint32 {
	return atomic.LoadUint32(&signals)
}

// ============================================================================
// SIGNAL INTEGRATION
// ============================================================================

// Notify installs a SIGINT/SIGTERM handler that calls Shutdown and then
// onSignal (if non-nil). The returned func uninstalls the handler.
func Notify(onSignal func(os.Signal)) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-ch:
				atomic.AddUint32(&signals, 1)
				Shutdown()
				if onSignal != nil {
					onSignal(sig)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// reset clears global state. Test hook.
func reset() {
	atomic.StoreUint32(&stop, 0)
	atomic.StoreUint32(&signals, 0)
}
