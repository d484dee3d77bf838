// ════════════════════════════════════════════════════════════════════════════════════════════════
// Synchronization Triple
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Bounded-Buffer Protocol
//
// Description:
//   The classic empty/full/mutex semaphore triple over the shared ring. empty counts free slots,
//   full counts filled slots and mutex serialises index movement. Every path releases exactly
//   what it acquired, including the paths that abort on cancellation.
//
// Ordering:
//   Push: wait(empty) → wait(mutex) → write, advance → post(mutex) → post(full)
//   Pop:  wait(full)  → wait(mutex) → read, advance [, eof++] → post(mutex) → post(empty)
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"wordpipe/config"
	"wordpipe/metrics"
	"wordpipe/ring"
	"wordpipe/sem"
	"wordpipe/token"
)

// Triple is one process's handle on the three named semaphores of a run.
type Triple struct {
	Empty *sem.Semaphore
	Full  *sem.Semaphore
	Mutex *sem.Semaphore

	// Metrics, when set, receives wait latencies.
	Metrics *metrics.Metrics
}

// CreateTriple opens or creates the semaphores with empty=C, full=0 and
// mutex=1. Initial values only apply to the first creator.
func CreateTriple(cfg *config.Config, stop *uint32) (*Triple, error) {
	t := &Triple{}
	var err error
	if t.Empty, err = sem.Create(cfg.Dir, cfg.SemEmpty, uint32(cfg.Capacity), stop); err != nil {
		return nil, err
	}
	if t.Full, err = sem.Create(cfg.Dir, cfg.SemFull, 0, stop); err != nil {
		t.Close()
		return nil, err
	}
	if t.Mutex, err = sem.Create(cfg.Dir, cfg.SemMutex, 1, stop); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// OpenTriple attaches to semaphores some producer already created.
func OpenTriple(cfg *config.Config, stop *uint32) (*Triple, error) {
	t := &Triple{}
	var err error
	if t.Empty, err = sem.Open(cfg.Dir, cfg.SemEmpty, stop); err != nil {
		return nil, err
	}
	if t.Full, err = sem.Open(cfg.Dir, cfg.SemFull, stop); err != nil {
		t.Close()
		return nil, err
	}
	if t.Mutex, err = sem.Open(cfg.Dir, cfg.SemMutex, stop); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PROTOCOL
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Push enqueues tok. On sem.ErrStopped nothing was written and every permit
// taken has been handed back.
func (t *Triple) Push(seg *ring.Segment, tok string, stop *uint32) error {
	if err := t.wait(t.Empty, "empty", stop); err != nil {
		return err
	}
	if err := t.wait(t.Mutex, "mutex", stop); err != nil {
		t.Empty.Post()
		return err
	}

	err := seg.PutLocked(tok)
	t.Mutex.Post()
	if err != nil {
		t.Empty.Post()
		return fmt.Errorf("push: %w", err)
	}
	return t.Full.Post()
}

// TryPush enqueues tok only if a slot is free right now. It still waits for
// the mutex, which is only ever held for one slot copy.
func (t *Triple) TryPush(seg *ring.Segment, tok string) (bool, error) {
	if !t.Empty.TryWait() {
		return false, nil
	}
	if err := t.Mutex.Wait(nil); err != nil {
		t.Empty.Post()
		return false, err
	}

	err := seg.PutLocked(tok)
	t.Mutex.Post()
	if err != nil {
		t.Empty.Post()
		return false, fmt.Errorf("push: %w", err)
	}
	return true, t.Full.Post()
}

// Pop dequeues one token into dst[:0]. For the sentinel the shared EOF
// counter is bumped inside the same critical section and sentinel is true.
func (t *Triple) Pop(seg *ring.Segment, dst []byte, stop *uint32) (tok []byte, sentinel bool, err error) {
	if err := t.wait(t.Full, "full", stop); err != nil {
		return dst, false, err
	}
	if err := t.wait(t.Mutex, "mutex", stop); err != nil {
		t.Full.Post()
		return dst, false, err
	}

	tok, err = seg.TakeLocked(dst)
	if err == nil && token.IsSentinel(tok) {
		seg.IncEOFLocked()
		sentinel = true
	}
	t.Mutex.Post()
	if err != nil {
		t.Full.Post()
		return dst, false, fmt.Errorf("pop: %w", err)
	}
	return tok, sentinel, t.Empty.Post()
}

// Occupancy is the number of filled slots as seen by the full semaphore.
func (t *Triple) Occupancy() int32 {
	return t.Full.Value()
}

func (t *Triple) wait(s *sem.Semaphore, name string, stop *uint32) error {
	if s.TryWait() {
		return nil
	}
	if t.Metrics == nil {
		return s.Wait(stop)
	}
	start := time.Now()
	err := s.Wait(stop)
	t.Metrics.ObserveWait(name, start)
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Close releases this process's semaphore handles.
func (t *Triple) Close() error {
	var errs []error
	for _, s := range []*sem.Semaphore{t.Empty, t.Full, t.Mutex} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

// Reset removes the segment and all three semaphores so the next run
// starts from a clean slate. No process may be attached.
func Reset(cfg *config.Config) error {
	return errors.Join(
		ring.Unlink(cfg),
		sem.Unlink(cfg.Dir, cfg.SemEmpty),
		sem.Unlink(cfg.Dir, cfg.SemFull),
		sem.Unlink(cfg.Dir, cfg.SemMutex),
	)
}
