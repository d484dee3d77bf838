// ════════════════════════════════════════════════════════════════════════════════════════════════
// Shared File Mappings
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Named Shared Memory Objects
//
// Description:
//   Every shared object in a run (the word segment and each of the three semaphores) is a small
//   file under the configured directory, mapped MAP_SHARED into each participating process.
//   Creation is open-or-create plus truncation to the agreed size; opening never creates and
//   waits, with bounded backoff, while a creator is still sizing the file.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package shm

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"wordpipe/constants"
	"wordpipe/control"
)

var (
	// ErrNotExist is returned by Open when no process has created the object.
	ErrNotExist = errors.New("shm: object does not exist")

	// ErrSizeMismatch is returned when an existing object has a different
	// size than the caller's layout requires.
	ErrSizeMismatch = errors.New("shm: object size mismatch")

	// ErrStopped is returned by every cancellable wait once the process
	// stop flag is observed.
	ErrStopped = errors.New("shm: wait cancelled")
)

// Mapping is one shared file mapped read/write into this process.
type Mapping struct {
	Path string
	Mem  []byte
	file *os.File
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// CREATE / OPEN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Create opens the object at path, creating it if needed, and makes sure it
// is exactly size bytes. Concurrent creators are safe: truncating to the same
// size is idempotent and never clears bytes already written.
func Create(path string, size int) (*Mapping, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared object %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat shared object %s: %w", path, err)
	}

	switch info.Size() {
	case int64(size):
	case 0:
		if err := unix.Ftruncate(int(file.Fd()), int64(size)); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to size shared object %s: %w", path, err)
		}
	default:
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, info.Size(), size)
	}

	return mapFile(file, path, size)
}

// Open maps an existing object. A missing object is ErrNotExist; an object
// still at size zero is polled with backoff until its creator sizes it or
// stop is raised.
func Open(path string, size int, stop *uint32) (*Mapping, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("failed to open shared object %s: %w", path, err)
	}

	backoff := constants.AttachBackoffMin
	for {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat shared object %s: %w", path, err)
		}
		if info.Size() == int64(size) {
			break
		}
		if info.Size() != 0 {
			file.Close()
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, info.Size(), size)
		}
		if control.Stopped(stop) {
			file.Close()
			return nil, ErrStopped
		}
		time.Sleep(backoff)
		if backoff *= 2; backoff > constants.AttachBackoffMax {
			backoff = constants.AttachBackoffMax
		}
	}

	return mapFile(file, path, size)
}

func mapFile(file *os.File, path string, size int) (*Mapping, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}
	return &Mapping{Path: path, Mem: mem, file: file}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TEARDOWN
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Close unmaps the object and closes its descriptor. The object itself stays
// in place for other processes. Safe to call twice.
func (m *Mapping) Close() error {
	var errs []error
	if m.Mem != nil {
		if err := unix.Munmap(m.Mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap %s: %w", m.Path, err))
		}
		m.Mem = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.Path, err))
		}
		m.file = nil
	}
	return errors.Join(errs...)
}

// Unlink removes the object at path. Removing a missing object is not an
// error. Processes that still have it mapped keep working on the old pages.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to unlink %s: %w", path, err)
	}
	return nil
}
