// Package lockfile implements the process-wide exclusive lock that
// serializes every tree-mutating ast operation. The lock is an flock(2) on a
// well-known path so independent ast invocations exclude each other; other
// processes are only expected to look at the path to detect contention.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// DefaultPath is the conventional location of the ast lock file.
const DefaultPath = "/run/ast.lock"

// Mutex is a named exclusive lock backed by a filesystem path. The zero
// value is not usable; construct with New. A Mutex is not re-entrant:
// acquiring it twice from the same process deadlocks, so callers hold it
// once per critical section.
type Mutex struct {
	path string
}

// New returns a Mutex backed by the given path. The file is created on
// first acquisition if it does not exist.
func New(path string) *Mutex {
	return &Mutex{path: path}
}

// Path returns the lock file path.
func (m *Mutex) Path() string {
	return m.path
}

// Lock acquires the exclusive lock, blocking until it is available. There
// is deliberately no timeout: mutators queue behind each other rather than
// failing. The returned release function must be called exactly once;
// closing the descriptor drops the flock even if the process later dies,
// so an aborted mutator can never wedge the lock.
func (m *Mutex) Lock() (func(), error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", m.path, err)
	}

	// Try without blocking first purely so contention is visible in logs.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", m.path, err)
		}
		log.L.WithField("path", m.path).Info("waiting for ast lock held by another operation")
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", m.path, err)
		}
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			log.L.WithError(err).WithField("path", m.path).Warn("failed to release ast lock")
		}
		f.Close()
	}, nil
}
