package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the state directory.
var ErrLocked = errors.New("store: state directory is locked by another migrator process")

// Lock is an exclusive advisory lock on a state directory. Mapping and
// checkpoint files are rewritten wholesale, so two processes sharing them
// would lose each other's updates.
type Lock struct {
	path string
	fl   *flock.Flock
}

// AcquireLock takes the lock on dir without blocking.
func AcquireLock(dir string) (*Lock, error) {
	if err := ensureDir(filepath.Join(dir, "x")); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "migrator.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
