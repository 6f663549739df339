// Package lockfile provides an inter-process advisory lock used to
// guard a redo log appender file so two OS processes never open the
// same archive for writing at once, built on github.com/gofrs/flock.
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock wraps a flock.Flock over a ".lock" sidecar file.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock guarding path+".lock".
func New(path string) *Lock {
	return &Lock{fl: flock.New(path + ".lock")}
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another process currently holds it.
func (l *Lock) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("lockfile: try lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return nil
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}
