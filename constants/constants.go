// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Shared segment layout & protocol tunables
//
// Purpose:
//   - Fixes the binary layout every attached process must agree on.
//   - Carries the default resource names and the reserved sentinel token.
//
// Notes:
//   - Layout offsets are part of the on-segment format; bump SegmentVersion
//     whenever any of them move.
//   - Names and capacity are defaults only; config may override them per run.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────────── Tokens ─────────────────────────────────

const (
	// MaxTokenLength bounds a single token in bytes. Longer words are
	// truncated by the normaliser before they ever reach a slot.
	MaxTokenLength = 255

	// SlotSize is one length byte followed by MaxTokenLength payload bytes.
	SlotSize = 1 + MaxTokenLength

	// Sentinel is the end-of-stream marker. Normalised tokens are lowercase
	// alphanumerics only, so the underscores make a collision impossible.
	Sentinel = "__EOF__"
)

// ──────────────────────────── Segment Layout ──────────────────────────────

const (
	// SegmentMagic identifies a word segment. Written last-but-one by the
	// initializer, checked by every attacher once the segment is ready.
	SegmentMagic = "WORDSHM\x00"

	// SegmentVersion is the layout revision of the header below.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the control block in front of the slot array.
	SegmentHeaderSize = 64

	// Header field offsets. All multi-byte words are naturally aligned so
	// sync/atomic and futex(2) can operate on them in place.
	OffMagic             = 0x00 // [8]byte
	OffVersion           = 0x08 // uint32
	OffState             = 0x0C // uint32, see State* below
	OffCapacity          = 0x10 // uint32
	OffSlotSize          = 0x14 // uint32
	OffWriteIndex        = 0x18 // uint32, mutex-guarded
	OffReadIndex         = 0x1C // uint32, mutex-guarded
	OffActiveProducers   = 0x20 // int32, atomic
	OffEOFSignals        = 0x24 // int32, mutex-guarded
	OffProducersAttached = 0x28 // uint32, atomic
	OffTokensWritten     = 0x30 // uint64, mutex-guarded
	OffTokensRead        = 0x38 // uint64, mutex-guarded

	// MaxCapacity caps the slot count so a corrupt header can never ask for
	// an absurd mapping.
	MaxCapacity = 4096

	// DefaultCapacity matches the ten-entry buffer of the reference setup.
	DefaultCapacity = 10
)

// Initialization states stored at OffState (and in every semaphore header).
const (
	StateUninitialized = uint32(0)
	StateInitializing  = uint32(1)
	StateReady         = uint32(2)
)

// ─────────────────────────── Semaphore Layout ─────────────────────────────

const (
	SemMagic      = "WORDSEM\x00"
	SemVersion    = uint32(1)
	SemHeaderSize = 64

	SemOffMagic   = 0x00 // [8]byte
	SemOffVersion = 0x08 // uint32
	SemOffState   = 0x0C // uint32
	SemOffValue   = 0x10 // int32, the futex word
	SemOffWaiters = 0x14 // uint32
)

// ─────────────────────────── Resource Names ───────────────────────────────

const (
	DefaultSegmentName = "word_shared_memory"
	DefaultSemEmpty    = "word_sem_empty"
	DefaultSemFull     = "word_sem_full"
	DefaultSemMutex    = "word_sem_mutex"

	// DefaultShmDir is preferred on Linux; config falls back to os.TempDir().
	DefaultShmDir = "/dev/shm"
)

// ─────────────────────────── Files & Reports ──────────────────────────────

const (
	ConsumerOutputPrefix = "consumer_output_"
	ConsumerOutputSuffix = ".txt"
	AggregateReportFile  = "aggregated_word_counts.txt"
)

// ───────────────────────────── Timing ─────────────────────────────────────

const (
	// FloodPacing spaces the last producer's extra sentinels so fast
	// consumers get a chance to pick them up one at a time.
	FloodPacing = 10 * time.Millisecond

	// WaitSlice is how long a blocked waiter sleeps in the kernel before it
	// re-checks the process stop flag. It is not a timeout: the wait resumes.
	WaitSlice = 50 * time.Millisecond

	// AttachBackoffMin/Max bound the poll used while a creator is still
	// sizing the segment file.
	AttachBackoffMin = 5 * time.Millisecond
	AttachBackoffMax = 500 * time.Millisecond
)
