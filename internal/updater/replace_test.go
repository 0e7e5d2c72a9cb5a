package updater

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func swapPaths(t *testing.T) (replacement, target, backup string) {
	dir := t.TempDir()
	replacement = filepath.Join(dir, "app.new")
	target = filepath.Join(dir, "app")
	backup = filepath.Join(dir, "app.old")
	writeFile(t, target, "A")
	writeFile(t, replacement, "B")
	return
}

func stubRename(t *testing.T, fail func(call int) error) {
	t.Helper()
	calls := 0
	rename = func(from, to string) error {
		calls++
		if err := fail(calls); err != nil {
			return err
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })
}

func TestReplaceExecutableHappyPath(t *testing.T) {
	replacement, target, backup := swapPaths(t)

	if err := ReplaceExecutable(replacement, target, backup); err != nil {
		t.Fatalf("ReplaceExecutable returned error: %v", err)
	}
	if got := readFile(t, target); got != "B" {
		t.Fatalf("target = %q, want B", got)
	}
	if got := readFile(t, backup); got != "A" {
		t.Fatalf("backup = %q, want A (backup must be kept)", got)
	}
	if _, err := os.Stat(replacement); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("replacement should have been moved")
	}
}

func TestReplaceExecutableMissingReplacement(t *testing.T) {
	replacement, target, backup := swapPaths(t)
	os.Remove(replacement)

	err := ReplaceExecutable(replacement, target, backup)
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if got := readFile(t, target); got != "A" {
		t.Fatal("target must be untouched")
	}
	if _, err := os.Stat(backup); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("backup must not be created")
	}
}

func TestReplaceExecutableReplacementIsDirectory(t *testing.T) {
	replacement, target, backup := swapPaths(t)
	os.Remove(replacement)
	os.Mkdir(replacement, 0o755)

	if err := ReplaceExecutable(replacement, target, backup); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestReplaceExecutableRollsBack(t *testing.T) {
	replacement, target, backup := swapPaths(t)
	stubRename(t, func(call int) error {
		if call == 2 {
			return errors.New("disk full")
		}
		return nil
	})

	err := ReplaceExecutable(replacement, target, backup)
	if err == nil {
		t.Fatal("expected error")
	}
	var unrecoverable *UnrecoverableError
	if errors.As(err, &unrecoverable) {
		t.Fatal("rollback succeeded, error must not be unrecoverable")
	}
	if got := readFile(t, target); got != "A" {
		t.Fatalf("target = %q, want original A", got)
	}
}

func TestReplaceExecutableUnrecoverable(t *testing.T) {
	replacement, target, backup := swapPaths(t)
	stubRename(t, func(call int) error {
		if call >= 2 {
			return errors.New("device gone")
		}
		return nil
	})

	err := ReplaceExecutable(replacement, target, backup)
	var unrecoverable *UnrecoverableError
	if !errors.As(err, &unrecoverable) {
		t.Fatalf("error = %v, want UnrecoverableError", err)
	}
	if !errors.Is(err, errdefs.ErrUnrecoverableState) {
		t.Fatal("UnrecoverableError should match ErrUnrecoverableState")
	}
	if unrecoverable.Backup != backup || unrecoverable.Target != target {
		t.Fatalf("unexpected paths in %+v", unrecoverable)
	}
	if got := readFile(t, backup); got != "A" {
		t.Fatal("original must survive at the backup path")
	}
}

func TestReplaceExecutableTargetRenameFails(t *testing.T) {
	replacement, target, backup := swapPaths(t)
	stubRename(t, func(call int) error {
		if call == 1 {
			return errors.New("permission denied")
		}
		return nil
	})

	err := ReplaceExecutable(replacement, target, backup)
	if !errors.Is(err, errdefs.ErrIO) {
		t.Fatalf("error = %v, want ErrIO", err)
	}
	if got := readFile(t, target); got != "A" {
		t.Fatal("target must be untouched")
	}
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "app.old")
	writeFile(t, backup, "A")

	if err := RemoveStale(backup); err != nil {
		t.Fatalf("RemoveStale returned error: %v", err)
	}
	if _, err := os.Stat(backup); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("backup should be removed")
	}
	if err := RemoveStale(backup); err != nil {
		t.Fatalf("second RemoveStale should be a no-op, got %v", err)
	}
}
