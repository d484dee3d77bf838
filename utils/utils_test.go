package utils

import (
	"strings"
	"sync/atomic"
	"testing"
	"unsafe"
)

// ============================================================================
// ZERO-ALLOCATION TYPE CONVERSION TESTS
// ============================================================================

func TestB2s(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "Empty slice",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "Single character",
			input:    []byte{'a'},
			expected: "a",
		},
		{
			name:     "ASCII string",
			input:    []byte("hello world"),
			expected: "hello world",
		},
		{
			name:     "UTF-8 string",
			input:    []byte("héllo wørld"),
			expected: "héllo wørld",
		},
		{
			name:     "Binary data",
			input:    []byte{0x00, 0x01, 0x02, 0x03, 0xFF},
			expected: string([]byte{0x00, 0x01, 0x02, 0x03, 0xFF}),
		},
		{
			name:     "Large string",
			input:    []byte(strings.Repeat("abcdefghij", 1000)),
			expected: strings.Repeat("abcdefghij", 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := B2s(tt.input)
			if result != tt.expected {
				t.Errorf("B2s() = %q, expected %q", result, tt.expected)
			}

			// Verify zero allocation behavior
			if len(tt.input) > 0 {
				// Check that the underlying data is shared
				inputPtr := unsafe.Pointer(&tt.input[0])
				resultPtr := unsafe.Pointer(unsafe.StringData(result))
				if inputPtr != resultPtr {
					t.Error("B2s() should share underlying data with input slice")
				}
			}
		})
	}
}

func TestB2s_ZeroAllocation(t *testing.T) {
	input := []byte("test string for allocation testing")

	allocsBefore := testing.AllocsPerRun(1000, func() {
		_ = B2s(input)
	})

	if allocsBefore > 0 {
		t.Errorf("B2s() allocated memory: %f allocs/op", allocsBefore)
	}
}

// ============================================================================
// SHARED WORD VIEW TESTS
// ============================================================================

func TestWordViewsAliasMemory(t *testing.T) {
	mem := make([]byte, 64)

	*U32At(mem, 0x0C) = 0xAABBCCDD
	if mem[0x0C] != 0xDD && mem[0x0F] != 0xDD {
		t.Fatal("U32At did not write through to the backing slice")
	}

	atomic.AddInt32(I32At(mem, 0x20), -3)
	if got := atomic.LoadInt32(I32At(mem, 0x20)); got != -3 {
		t.Fatalf("I32At value = %d, want -3", got)
	}

	atomic.AddUint64(U64At(mem, 0x30), 1<<40)
	if got := atomic.LoadUint64(U64At(mem, 0x30)); got != 1<<40 {
		t.Fatalf("U64At value = %d, want %d", got, uint64(1)<<40)
	}

	if unsafe.Pointer(U32At(mem, 8)) != unsafe.Pointer(&mem[8]) {
		t.Fatal("U32At must point into mem")
	}
}

func TestWordViewsBoundsChecked(t *testing.T) {
	mem := make([]byte, 8)
	defer func() {
		if recover() == nil {
			t.Fatal("U64At past the end should panic")
		}
	}()
	_ = U64At(mem, 8)
}
