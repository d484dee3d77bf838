package utils

import "unsafe"

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// B2s converts a []byte to a string **without** allocation.
// ⚠️ Caller must ensure the input slice remains valid and unchanged while the
// string is in use. Used for comparisons against slot memory.
//
//go:nosplit
//go:inline
func B2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

///////////////////////////////////////////////////////////////////////////////
// Byte Views — Aligned Words Inside Shared Mappings
///////////////////////////////////////////////////////////////////////////////

// U32At returns a pointer to the uint32 at byte offset off of mem.
// ⚠️ off must be 4-byte aligned and off+4 <= len(mem); mem must stay mapped.
//
//go:nosplit
//go:inline
func U32At(mem []byte, off int) *uint32 {
	_ = mem[off+3] // bounds check once
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// I32At returns a pointer to the int32 at byte offset off of mem.
//
//go:nosplit
//go:inline
func I32At(mem []byte, off int) *int32 {
	_ = mem[off+3]
	return (*int32)(unsafe.Pointer(&mem[off]))
}

// U64At returns a pointer to the uint64 at byte offset off of mem.
// ⚠️ off must be 8-byte aligned.
//
//go:nosplit
//go:inline
func U64At(mem []byte, off int) *uint64 {
	_ = mem[off+7]
	return (*uint64)(unsafe.Pointer(&mem[off]))
}
