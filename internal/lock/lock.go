// Package lock provides the process-wide singleton lock that keeps a second
// updater from running while one is already installing.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
)

// DefaultName is the well-known lock identifier shared by every updater instance.
const DefaultName = "breeze-updater"

var log = logging.L("lock")

// Locker guards one named OS lock. The OS releases it when the process exits,
// so a crashed updater never leaves a stale lock behind.
type Locker struct {
	name string
	dir  string

	mu     sync.Mutex
	handle osHandle
}

// New returns a Locker for name, keeping its lock file in the user cache dir.
func New(name string) *Locker {
	return NewAt(defaultDir(), name)
}

// NewAt returns a Locker whose lock file lives in dir. The directory is
// ignored on platforms that use a named kernel object.
func NewAt(dir, name string) *Locker {
	return &Locker{name: name, dir: dir}
}

// Name returns the lock identifier.
func (l *Locker) Name() string { return l.name }

// Path returns the lock file path.
func (l *Locker) Path() string {
	return filepath.Join(l.dir, l.name+".lock")
}

// Lock acquires the lock without blocking. It returns true when this process
// now holds the lock or already held it, and false when another holder has it.
func (l *Locker) Lock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil {
		return true
	}

	h, err := acquire(l)
	if err != nil {
		log.Debug("lock not acquired", "name", l.name, "error", err)
		return false
	}
	l.handle = h
	return true
}

// Unlock releases the lock. It returns false if the lock was not held.
func (l *Locker) Unlock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		return false
	}
	if err := l.handle.release(); err != nil {
		log.Warn("failed to release lock", "name", l.name, "error", err)
	}
	l.handle = nil
	return true
}

// IsLocked reports whether this Locker currently holds the lock.
func (l *Locker) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Acquire locks l or returns errdefs.ErrLockHeld, annotated with the current
// holder when it can be identified.
func Acquire(l *Locker) error {
	if l.Lock() {
		return nil
	}
	if info, err := Holder(l); err == nil {
		return fmt.Errorf("%w: held by %s", errdefs.ErrLockHeld, info)
	}
	return errdefs.ErrLockHeld
}

// HolderInfo describes the process recorded in a lock file.
type HolderInfo struct {
	PID       int32
	Name      string
	StartedAt time.Time
}

func (h HolderInfo) String() string {
	if h.Name == "" {
		return fmt.Sprintf("pid %d", h.PID)
	}
	return fmt.Sprintf("%s (pid %d, started %s)", h.Name, h.PID, h.StartedAt.Format(time.RFC3339))
}

// Holder reads the PID written by the current holder and describes that
// process. It returns errdefs.ErrNotFound when no live holder is recorded.
func Holder(l *Locker) (HolderInfo, error) {
	data, err := os.ReadFile(l.Path())
	if err != nil {
		return HolderInfo{}, fmt.Errorf("%w: no lock file: %v", errdefs.ErrNotFound, err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		return HolderInfo{}, fmt.Errorf("%w: lock file has no pid", errdefs.ErrNotFound)
	}

	info := HolderInfo{PID: int32(pid)}
	proc, err := process.NewProcess(info.PID)
	if err != nil {
		return HolderInfo{}, fmt.Errorf("%w: holder pid %d is not running", errdefs.ErrNotFound, pid)
	}
	if name, err := proc.Name(); err == nil {
		info.Name = name
	}
	if ms, err := proc.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(ms)
	}
	return info, nil
}

func defaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return dir
}

// writePID records the holder for diagnostics. Failures are not fatal.
func writePID(f *os.File) {
	if err := f.Truncate(0); err != nil {
		return
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		log.Debug("failed to record pid in lock file", "error", err)
	}
}
