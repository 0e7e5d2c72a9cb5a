//go:build !windows

package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type osHandle interface {
	release() error
}

type flockHandle struct {
	file *os.File
}

func acquire(l *Locker) (osHandle, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", l.Path(), err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", l.Path(), err)
	}

	writePID(f)
	return &flockHandle{file: f}, nil
}

func (h *flockHandle) release() error {
	// Clear the pid first so a later Holder lookup does not report us.
	_ = h.file.Truncate(0)
	if err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); err != nil {
		h.file.Close()
		return err
	}
	return h.file.Close()
}
