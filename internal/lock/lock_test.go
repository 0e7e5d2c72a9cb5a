package lock

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

func uniqueName(t *testing.T) string {
	return "breeze-updater-test-" + strconv.Itoa(os.Getpid()) + "-" + strings.ReplaceAll(t.Name(), "/", "_")
}

func TestLockIsReentrant(t *testing.T) {
	l := NewAt(t.TempDir(), uniqueName(t))

	if l.IsLocked() {
		t.Fatal("new locker should not be locked")
	}
	if !l.Lock() {
		t.Fatal("first Lock should succeed")
	}
	if !l.Lock() {
		t.Fatal("second Lock by the holder should succeed")
	}
	if !l.IsLocked() {
		t.Fatal("IsLocked should be true while held")
	}
	if !l.Unlock() {
		t.Fatal("Unlock should report true while held")
	}
	if l.Unlock() {
		t.Fatal("Unlock should report false when not held")
	}
	if l.IsLocked() {
		t.Fatal("IsLocked should be false after Unlock")
	}
}

func TestSecondLockerIsExcluded(t *testing.T) {
	dir := t.TempDir()
	name := uniqueName(t)

	first := NewAt(dir, name)
	second := NewAt(dir, name)

	if !first.Lock() {
		t.Fatal("first locker should acquire")
	}
	defer first.Unlock()

	if second.Lock() {
		second.Unlock()
		t.Fatal("second locker should not acquire a held lock")
	}

	err := Acquire(second)
	if !errors.Is(err, errdefs.ErrLockHeld) {
		t.Fatalf("Acquire error = %v, want ErrLockHeld", err)
	}

	first.Unlock()
	if !second.Lock() {
		t.Fatal("second locker should acquire after release")
	}
	second.Unlock()
}

func TestHolderReportsCurrentProcess(t *testing.T) {
	l := NewAt(t.TempDir(), uniqueName(t))
	if !l.Lock() {
		t.Fatal("Lock failed")
	}
	defer l.Unlock()

	info, err := Holder(l)
	if err != nil {
		t.Fatalf("Holder returned error: %v", err)
	}
	if int(info.PID) != os.Getpid() {
		t.Fatalf("holder pid = %d, want %d", info.PID, os.Getpid())
	}
	if !strings.Contains(info.String(), strconv.Itoa(os.Getpid())) {
		t.Fatalf("holder description missing pid: %s", info)
	}
}

func TestHolderWithoutLockFile(t *testing.T) {
	l := NewAt(t.TempDir(), uniqueName(t))
	if _, err := Holder(l); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("Holder error = %v, want ErrNotFound", err)
	}
}

func TestUnlockClearsRecordedPID(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pid file is best effort on windows")
	}
	l := NewAt(t.TempDir(), uniqueName(t))
	if !l.Lock() {
		t.Fatal("Lock failed")
	}
	l.Unlock()

	if _, err := Holder(l); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("Holder after Unlock = %v, want ErrNotFound", err)
	}
}
