package launcher

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/hashicorp/go-version"
)

func mustVersion(t *testing.T, s string) *version.Version {
	t.Helper()
	v, err := version.NewVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVersionFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if v := ReadVersion(dir); v != nil {
		t.Fatalf("missing file should read as nil, got %s", v)
	}

	if err := WriteVersion(dir, mustVersion(t, "1.2.0")); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	data, _ := os.ReadFile(VersionFile(dir))
	if string(data) != "1.2.0" {
		t.Fatalf("version file = %q", data)
	}

	v := ReadVersion(dir)
	if v == nil || !v.Equal(mustVersion(t, "1.2.0")) {
		t.Fatalf("ReadVersion = %v, want 1.2.0", v)
	}
}

func TestReadVersionGarbage(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(VersionFile(dir), []byte("not a version\n"), 0o644)
	if v := ReadVersion(dir); v != nil {
		t.Fatalf("garbage should read as nil, got %s", v)
	}

	os.WriteFile(VersionFile(dir), []byte(" 2.0.1\n"), 0o644)
	if v := ReadVersion(dir); v == nil || v.String() != "2.0.1" {
		t.Fatalf("whitespace should be trimmed, got %v", v)
	}
}

func TestInstalled(t *testing.T) {
	dir := t.TempDir()
	v := mustVersion(t, "1.0.0")

	if Installed(dir, v, "bin/app") {
		t.Fatal("nothing installed yet")
	}

	os.MkdirAll(filepath.Join(dir, "1.0.0", "bin"), 0o755)
	os.WriteFile(filepath.Join(dir, "1.0.0", "bin", "app"), []byte("x"), 0o755)

	if !Installed(dir, v, "bin/app") {
		t.Fatal("executable exists, should be installed")
	}
	if Installed(dir, v, "bin") {
		t.Fatal("a directory is not an executable")
	}
	if Installed(dir, v, "../../etc/passwd") {
		t.Fatal("escaping executable path must be rejected")
	}
	if Installed(dir, nil, "bin/app") {
		t.Fatal("nil version is never installed")
	}
}

func TestCleanOldVersions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0.9.0", "1.0.0", "1.1.0", "1.2.0", "logs", "v0.1.0"} {
		os.MkdirAll(filepath.Join(dir, name), 0o755)
	}
	os.WriteFile(filepath.Join(dir, "0.1.0"), []byte("file, not dir"), 0o644)

	removed, err := CleanOldVersions(dir, mustVersion(t, "1.1.0"))
	if err != nil {
		t.Fatalf("CleanOldVersions: %v", err)
	}
	sort.Strings(removed)
	if len(removed) != 2 || filepath.Base(removed[0]) != "0.9.0" || filepath.Base(removed[1]) != "1.0.0" {
		t.Fatalf("removed = %v", removed)
	}

	entries, _ := os.ReadDir(dir)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	sort.Strings(left)
	want := []string{"0.1.0", "1.1.0", "1.2.0", "logs", "v0.1.0"}
	if len(left) != len(want) {
		t.Fatalf("left = %v, want %v", left, want)
	}
	for i := range want {
		if left[i] != want[i] {
			t.Fatalf("left = %v, want %v", left, want)
		}
	}
}

func TestLaunchStartsDetachedProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	v := mustVersion(t, "1.0.0")
	verDir := filepath.Join(dir, "1.0.0")
	os.MkdirAll(verDir, 0o755)

	script := "#!/bin/sh\npwd > launched.txt\necho \"$1\" >> launched.txt\n"
	if err := os.WriteFile(filepath.Join(verDir, "app.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	pid, err := Launch(dir, v, "app.sh", []string{"--flag"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}

	out := filepath.Join(verDir, "launched.txt")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(out)
		if err == nil && len(data) > 0 && data[len(data)-1] == '\n' && len(splitLines(string(data))) == 2 {
			lines := splitLines(string(data))
			wantDir, _ := filepath.EvalSymlinks(verDir)
			gotDir, _ := filepath.EvalSymlinks(lines[0])
			if gotDir != wantDir {
				t.Fatalf("working dir = %q, want %q", lines[0], verDir)
			}
			if lines[1] != "--flag" {
				t.Fatalf("arg = %q, want --flag", lines[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("launched process did not run: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	if _, err := Launch(t.TempDir(), mustVersion(t, "1.0.0"), "absent", nil); err == nil {
		t.Fatal("expected error for missing executable")
	}
	if _, err := Launch(t.TempDir(), nil, "app", nil); err == nil {
		t.Fatal("expected error for nil version")
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
