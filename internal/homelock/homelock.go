// Package homelock enforces the single-writer-process invariant over a
// boxlite home directory using an exclusive, non-blocking file lock.
package homelock

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/cuemby/boxlite/internal/boxerr"
)

// Lock wraps an acquired exclusive lock on a home directory's lock file.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive, non-blocking lock at path. It returns an
// InvalidState error if another process already holds it.
func Acquire(path string) (*Lock, error) {
	const op = "homelock.Acquire"
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, boxerr.Storage(op, fmt.Errorf("lock %s: %w", path, err))
	}
	if !ok {
		return nil, boxerr.InvalidStatef(op, "home directory is locked by another boxlite process: %s", path)
	}
	return &Lock{fl: fl}, nil
}

// Release gives up the lock. Safe to call once; the process exiting
// also releases it implicitly.
func (l *Lock) Release() error {
	const op = "homelock.Release"
	if err := l.fl.Unlock(); err != nil {
		return boxerr.Storage(op, err)
	}
	return nil
}
