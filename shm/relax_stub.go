// relax_stub.go — no-op Relax for targets without a spin hint or without cgo.

//go:build (!amd64 && !arm64) || !cgo || noasm

package shm

// Relax does nothing on this target.
//
//go:nosplit
func Relax() {}
