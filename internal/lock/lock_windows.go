//go:build windows

package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

type osHandle interface {
	release() error
}

type mutexHandle struct {
	mutex windows.Handle
	file  *os.File
}

func acquire(l *Locker) (osHandle, error) {
	name, err := windows.UTF16PtrFromString(`Local\` + l.name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		if h != 0 {
			windows.CloseHandle(h)
		}
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, fmt.Errorf("mutex %s already exists", l.name)
		}
		return nil, fmt.Errorf("create mutex %s: %w", l.name, err)
	}

	handle := &mutexHandle{mutex: h}
	// The pid file is diagnostic only; the mutex is the lock.
	if err := os.MkdirAll(l.dir, 0o755); err == nil {
		if f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_RDWR, 0o644); err == nil {
			writePID(f)
			handle.file = f
		}
	}
	return handle, nil
}

func (h *mutexHandle) release() error {
	if h.file != nil {
		_ = h.file.Truncate(0)
		h.file.Close()
	}
	return windows.CloseHandle(h.mutex)
}
