package core

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dirLock holds an advisory, process-local exclusive lock on the data
// directory itself, taken directly on the directory's own file
// descriptor via flock(2), opened the same way fsyncDir opens the
// directory for durability. No separate lock file is ever written into the directory:
// the data directory holds nothing but "<gen>.log" segment files.
type dirLock struct {
	dir *os.File
}

// acquireDirLock takes a non-blocking exclusive flock(2) on dir. It fails
// immediately with ErrAlreadyLocked if another engine already holds it.
func acquireDirLock(dir string) (*dirLock, error) {
	d, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open data dir %q: %w", dir, err)
	}

	if err := unix.Flock(int(d.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = d.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("flock %q: %w", dir, err)
	}

	return &dirLock{dir: d}, nil
}

// release drops the advisory lock and closes the directory handle. The
// lock is released implicitly on process exit too, since it lives on the
// file descriptor, not on anything persisted to disk.
func (l *dirLock) release() error {
	if err := unix.Flock(int(l.dir.Fd()), unix.LOCK_UN); err != nil {
		_ = l.dir.Close()
		return fmt.Errorf("unlock %q: %w", l.dir.Name(), err)
	}
	return l.dir.Close()
}
