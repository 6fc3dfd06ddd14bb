package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is a held single-instance flock on the daemon's lock file. The
// zero value is not usable; build one with AcquireLock.
type Lock struct {
	f *os.File
}

// AcquireLock tries a non-blocking exclusive flock on path, creating
// the file if needed. A nil, nil return means another daemon instance
// already holds the lock.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("daemon: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("daemon: flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file. The lock file
// itself is left on disk; flock's exclusivity is what matters, not the
// file's presence.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
