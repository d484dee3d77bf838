// ════════════════════════════════════════════════════════════════════════════════════════════════
// Named Counting Semaphore
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Cross-Process Synchronization Primitive
//
// Description:
//   A counting semaphore living in its own 64-byte shared file. Any process that knows the
//   directory and name can open it; blocking is a shared futex on the value word, so a post in
//   one process wakes a waiter in another without any broker.
//
// Layout (see constants.SemOff*):
//   magic | version | state | value | waiters
//
// Wait protocol:
//   - CAS the value down when it is positive
//   - Otherwise spin briefly, announce in waiters, then futex-sleep one WaitSlice
//   - Every wake re-checks the process stop flag; a cancelled wait holds no permit
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sem

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"wordpipe/constants"
	"wordpipe/control"
	"wordpipe/shm"
)

var (
	// ErrStopped is returned by a wait that observed the stop flag.
	ErrStopped = shm.ErrStopped

	// ErrNotExist is returned by Open when the semaphore was never created.
	ErrNotExist = errors.New("sem: semaphore does not exist")

	// ErrLayoutMismatch is returned for a file that is not a semaphore of
	// this layout version.
	ErrLayoutMismatch = errors.New("sem: layout mismatch")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("sem: closed")
)

// spinLimit bounds the userspace spin before a waiter goes to the kernel.
const spinLimit = 64

// Semaphore is one process's handle on a named semaphore.
type Semaphore struct {
	name    string
	m       *shm.Mapping
	value   *uint32
	waiters *uint32
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CREATE / OPEN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Create opens the semaphore dir/name, creating it with the given initial
// value when no process has initialised it yet. Later creators attach to the
// existing value unchanged, waiting on stop while the initialiser finishes.
func Create(dir, name string, initial uint32, stop *uint32) (*Semaphore, error) {
	m, err := shm.Create(filepath.Join(dir, name), constants.SemHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("sem %s: %w", name, err)
	}
	s := bind(name, m)

	state := m.U32(constants.SemOffState)
	if atomic.CompareAndSwapUint32(state, constants.StateUninitialized, constants.StateInitializing) {
		copy(m.Mem[constants.SemOffMagic:], constants.SemMagic)
		atomic.StoreUint32(m.U32(constants.SemOffVersion), constants.SemVersion)
		atomic.StoreUint32(s.value, initial)
		atomic.StoreUint32(s.waiters, 0)
		atomic.StoreUint32(state, constants.StateReady)
		shm.Wake(state, 1<<30)
		return s, nil
	}

	if err := s.waitReady(stop); err != nil {
		m.Close()
		return nil, err
	}
	return s, nil
}

// Open attaches to an existing semaphore. It never creates one.
func Open(dir, name string, stop *uint32) (*Semaphore, error) {
	m, err := shm.Open(filepath.Join(dir, name), constants.SemHeaderSize, stop)
	switch {
	case errors.Is(err, shm.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	case err != nil:
		return nil, fmt.Errorf("sem %s: %w", name, err)
	}

	s := bind(name, m)
	if err := s.waitReady(stop); err != nil {
		m.Close()
		return nil, err
	}
	return s, nil
}

func bind(name string, m *shm.Mapping) *Semaphore {
	return &Semaphore{
		name:    name,
		m:       m,
		value:   m.U32(constants.SemOffValue),
		waiters: m.U32(constants.SemOffWaiters),
	}
}

// waitReady blocks until the initialiser has published the semaphore, then
// checks the header.
func (s *Semaphore) waitReady(stop *uint32) error {
	state := s.m.U32(constants.SemOffState)
	for {
		v := atomic.LoadUint32(state)
		if v == constants.StateReady {
			break
		}
		if control.Stopped(stop) {
			return ErrStopped
		}
		shm.Wait(state, v, constants.WaitSlice)
	}

	if string(s.m.Mem[constants.SemOffMagic:constants.SemOffMagic+8]) != constants.SemMagic ||
		atomic.LoadUint32(s.m.U32(constants.SemOffVersion)) != constants.SemVersion {
		return fmt.Errorf("%w: %s", ErrLayoutMismatch, s.name)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// TryWait takes one permit if one is available.
func (s *Semaphore) TryWait() bool {
	if s.m == nil {
		return false
	}
	for {
		v := atomic.LoadUint32(s.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.value, v, v-1) {
			return true
		}
	}
}

// Wait takes one permit, blocking while none is available. It returns
// ErrStopped, holding no permit, once the flag behind stop is set.
func (s *Semaphore) Wait(stop *uint32) error {
	if s.m == nil {
		return ErrClosed
	}
	for {
		if s.TryWait() {
			return nil
		}
		if control.Stopped(stop) {
			return ErrStopped
		}

		for i := 0; i < spinLimit && atomic.LoadUint32(s.value) == 0; i++ {
			shm.Relax()
		}
		if atomic.LoadUint32(s.value) != 0 {
			continue
		}

		// A poster that misses this increment has already made value
		// non-zero, so the futex compare fails and we return at once.
		atomic.AddUint32(s.waiters, 1)
		shm.Wait(s.value, 0, constants.WaitSlice)
		atomic.AddUint32(s.waiters, ^uint32(0))
	}
}

// Post releases one permit and wakes one waiter if any is sleeping.
func (s *Semaphore) Post() error {
	if s.m == nil {
		return ErrClosed
	}
	atomic.AddUint32(s.value, 1)
	if atomic.LoadUint32(s.waiters) != 0 {
		shm.Wake(s.value, 1)
	}
	return nil
}

// Value is the current permit count.
func (s *Semaphore) Value() int32 {
	if s.m == nil {
		return 0
	}
	return int32(atomic.LoadUint32(s.value))
}

// Name is the semaphore's name within its directory.
func (s *Semaphore) Name() string { return s.name }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Close releases this process's handle. The semaphore itself persists.
func (s *Semaphore) Close() error {
	if s.m == nil {
		return nil
	}
	err := s.m.Close()
	s.m = nil
	return err
}

// Unlink removes the named semaphore so the next Create starts fresh.
func Unlink(dir, name string) error {
	return shm.Unlink(filepath.Join(dir, name))
}
