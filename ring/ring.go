// ring.go
//
// Shared word ring: a fixed-capacity circular buffer of 256-byte token slots
// in a named file mapping, shared by every producer and consumer of a run.
// The segment carries no locking of its own. Index movement is guarded by
// the mutex semaphore of the synchronization triple; the *Locked helpers
// below must only be called while it is held.
//
// Layout: 64-byte header (constants.Off*) followed by capacity slots.
// The header is written once by whichever process wins the state CAS
// 0 → 1; everyone else sleeps on the state word until it reads 2.

package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	"wordpipe/config"
	"wordpipe/constants"
	"wordpipe/control"
	"wordpipe/shm"
	"wordpipe/token"
)

var (
	// ErrNotExist is returned by Attach when no producer created the segment.
	ErrNotExist = errors.New("ring: shared segment does not exist")

	// ErrLayoutMismatch is returned when the segment header disagrees with
	// this build's layout or the configured capacity.
	ErrLayoutMismatch = errors.New("ring: segment layout mismatch")
)

// Segment is one process's mapping of the shared ring.
type Segment struct {
	m        *shm.Mapping
	capacity uint32

	state    *uint32
	writeIdx *uint32
	readIdx  *uint32
	active   *int32
	eof      *int32
	attached *uint32
	written  *uint64
	read     *uint64
}

// Size is the mapping length for a ring of capacity slots.
func Size(capacity int) int {
	return constants.SegmentHeaderSize + capacity*constants.SlotSize
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ATTACH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// AttachOrCreate opens the configured segment, creating and sizing it if
// needed. Producers use this; the header is not initialised yet.
func AttachOrCreate(cfg *config.Config) (*Segment, error) {
	m, err := shm.Create(cfg.SegmentPath(), Size(cfg.Capacity))
	if err != nil {
		if errors.Is(err, shm.ErrSizeMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
		}
		return nil, err
	}
	return bind(m, cfg.Capacity), nil
}

// Attach opens an existing segment only. A missing segment is ErrNotExist;
// a segment still being sized is waited for until stop is raised.
func Attach(cfg *config.Config, stop *uint32) (*Segment, error) {
	m, err := shm.Open(cfg.SegmentPath(), Size(cfg.Capacity), stop)
	switch {
	case errors.Is(err, shm.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotExist, cfg.SegmentPath())
	case errors.Is(err, shm.ErrSizeMismatch):
		return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	case err != nil:
		return nil, err
	}
	return bind(m, cfg.Capacity), nil
}

func bind(m *shm.Mapping, capacity int) *Segment {
	return &Segment{
		m:        m,
		capacity: uint32(capacity),
		state:    m.U32(constants.OffState),
		writeIdx: m.U32(constants.OffWriteIndex),
		readIdx:  m.U32(constants.OffReadIndex),
		active:   m.I32(constants.OffActiveProducers),
		eof:      m.I32(constants.OffEOFSignals),
		attached: m.U32(constants.OffProducersAttached),
		written:  m.U64(constants.OffTokensWritten),
		read:     m.U64(constants.OffTokensRead),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INITIALISATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// InitializeOnce writes the header if no process has done so yet. It
// reports whether this call was the initialiser.
func (s *Segment) InitializeOnce() (bool, error) {
	if s.m == nil {
		return false, errors.New("ring: segment closed")
	}
	if !atomic.CompareAndSwapUint32(s.state, constants.StateUninitialized, constants.StateInitializing) {
		return false, nil
	}

	copy(s.m.Mem[constants.OffMagic:], constants.SegmentMagic)
	atomic.StoreUint32(s.m.U32(constants.OffVersion), constants.SegmentVersion)
	atomic.StoreUint32(s.m.U32(constants.OffCapacity), s.capacity)
	atomic.StoreUint32(s.m.U32(constants.OffSlotSize), constants.SlotSize)
	atomic.StoreUint32(s.writeIdx, 0)
	atomic.StoreUint32(s.readIdx, 0)
	atomic.StoreInt32(s.active, 0)
	atomic.StoreInt32(s.eof, 0)
	atomic.StoreUint32(s.attached, 0)
	atomic.StoreUint64(s.written, 0)
	atomic.StoreUint64(s.read, 0)
	clear(s.m.Mem[constants.SegmentHeaderSize:])

	atomic.StoreUint32(s.state, constants.StateReady)
	shm.Wake(s.state, 1<<30)
	return true, nil
}

// WaitReady blocks until the header is published, then validates it.
func (s *Segment) WaitReady(stop *uint32) error {
	for {
		v := atomic.LoadUint32(s.state)
		if v == constants.StateReady {
			break
		}
		if control.Stopped(stop) {
			return shm.ErrStopped
		}
		shm.Wait(s.state, v, constants.WaitSlice)
	}

	switch {
	case string(s.m.Mem[constants.OffMagic:constants.OffMagic+8]) != constants.SegmentMagic:
		return fmt.Errorf("%w: bad magic", ErrLayoutMismatch)
	case atomic.LoadUint32(s.m.U32(constants.OffVersion)) != constants.SegmentVersion:
		return fmt.Errorf("%w: version %d", ErrLayoutMismatch, atomic.LoadUint32(s.m.U32(constants.OffVersion)))
	case atomic.LoadUint32(s.m.U32(constants.OffCapacity)) != s.capacity:
		return fmt.Errorf("%w: capacity %d, configured %d",
			ErrLayoutMismatch, atomic.LoadUint32(s.m.U32(constants.OffCapacity)), s.capacity)
	case atomic.LoadUint32(s.m.U32(constants.OffSlotSize)) != constants.SlotSize:
		return fmt.Errorf("%w: slot size", ErrLayoutMismatch)
	}
	return nil
}

// Ready reports whether the header has been published.
func (s *Segment) Ready() bool {
	return atomic.LoadUint32(s.state) == constants.StateReady
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Header reads. Index values observed without the mutex are advisory only.

func (s *Segment) Capacity() int { return int(s.capacity) }
func (s *Segment) WriteIndex() uint32 { return atomic.LoadUint32(s.writeIdx) }
func (s *Segment) ReadIndex() uint32 { return atomic.LoadUint32(s.readIdx) }
func (s *Segment) ActiveProducers() int32 { return atomic.LoadInt32(s.active) }
func (s *Segment) EOFSignals() int32 { return atomic.LoadInt32(s.eof) }
func (s *Segment) ProducersAttached() uint32 { return atomic.LoadUint32(s.attached) }
func (s *Segment) TokensWritten() uint64 { return atomic.LoadUint64(s.written) }
func (s *Segment) TokensRead() uint64 { return atomic.LoadUint64(s.read) }

// Path is the backing file of the segment.
func (s *Segment) Path() string { return s.m.Path }

// AddActiveProducers adjusts the live producer count and returns the new
// value. It does not need the mutex.
func (s *Segment) AddActiveProducers(delta int32) int32 {
	return atomic.AddInt32(s.active, delta)
}

// MarkAttached bumps the lifetime count of producers that joined the run.
func (s *Segment) MarkAttached() uint32 {
	return atomic.AddUint32(s.attached, 1)
}

// Slot returns the i-th slot of the mapping.
func (s *Segment) Slot(i uint32) ([]byte, error) {
	if i >= s.capacity {
		return nil, fmt.Errorf("ring: slot %d out of range [0,%d)", i, s.capacity)
	}
	off := constants.SegmentHeaderSize + int(i)*constants.SlotSize
	return s.m.Mem[off : off+constants.SlotSize : off+constants.SlotSize], nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MUTEX-HELD MUTATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PutLocked writes tok at the write index and advances it. Caller holds the
// triple mutex and an empty permit. Never blocks.
func (s *Segment) PutLocked(tok string) error {
	i := atomic.LoadUint32(s.writeIdx)
	slot, err := s.Slot(i)
	if err != nil {
		return fmt.Errorf("%w: write index: %v", ErrLayoutMismatch, err)
	}
	if err := token.Encode(slot, tok); err != nil {
		return err
	}
	atomic.StoreUint32(s.writeIdx, (i+1)%s.capacity)
	atomic.AddUint64(s.written, 1)
	return nil
}

// TakeLocked copies the token at the read index into dst[:0], advances the
// index and returns the copy. Caller holds the triple mutex and a full
// permit. Never blocks.
func (s *Segment) TakeLocked(dst []byte) ([]byte, error) {
	i := atomic.LoadUint32(s.readIdx)
	slot, err := s.Slot(i)
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrLayoutMismatch, err)
	}
	view, err := token.Decode(slot)
	if err != nil {
		return nil, err
	}
	dst = append(dst[:0], view...)
	atomic.StoreUint32(s.readIdx, (i+1)%s.capacity)
	atomic.AddUint64(s.read, 1)
	return dst, nil
}

// IncEOFLocked records one consumed sentinel and returns the new total.
func (s *Segment) IncEOFLocked() int32 {
	return atomic.AddInt32(s.eof, 1)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Close unmaps the segment from this process.
func (s *Segment) Close() error {
	if s.m == nil {
		return nil
	}
	err := s.m.Close()
	s.m = nil
	return err
}

// Unlink removes the named segment file.
func Unlink(cfg *config.Config) error {
	return shm.Unlink(cfg.SegmentPath())
}
