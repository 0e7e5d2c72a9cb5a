// Package launcher manages the installed versions of the payload
// application: the version file, the per-version directories and starting
// the installed executable.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/safepath"
)

var log = logging.L("launcher")

// VersionFileName is the file in the working directory that records the
// installed application version.
const VersionFileName = "version.txt"

var dirVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// VersionFile returns the path of the version file in workdir.
func VersionFile(workdir string) string {
	return filepath.Join(workdir, VersionFileName)
}

// ReadVersion returns the recorded version, or nil when the file is missing
// or does not hold a version.
func ReadVersion(workdir string) *version.Version {
	data, err := os.ReadFile(VersionFile(workdir))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to read version file", logging.KeyPath, VersionFile(workdir), logging.KeyError, err)
		}
		return nil
	}
	v, err := version.NewVersion(strings.TrimSpace(string(data)))
	if err != nil {
		log.Warn("version file is not a version", logging.KeyPath, VersionFile(workdir), logging.KeyError, err)
		return nil
	}
	return v
}

// WriteVersion records v as the installed version.
func WriteVersion(workdir string, v *version.Version) error {
	if v == nil {
		return fmt.Errorf("no version to write")
	}
	if err := os.WriteFile(VersionFile(workdir), []byte(v.String()), 0o644); err != nil {
		return fmt.Errorf("%w: write version file: %w", errdefs.ErrIO, err)
	}
	return nil
}

// ExecutablePath returns <workdir>/<v>/<exe>, refusing an exe path that
// leaves the version directory.
func ExecutablePath(workdir string, v *version.Version, exe string) (string, error) {
	return safepath.Join(filepath.Join(workdir, v.String()), exe)
}

// Installed reports whether the executable of version v exists.
func Installed(workdir string, v *version.Version, exe string) bool {
	if v == nil {
		return false
	}
	path, err := ExecutablePath(workdir, v, exe)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CleanOldVersions removes version directories older than current. Names
// that are not plain major.minor.patch versions are left alone, and a
// directory that cannot be removed is logged and skipped.
func CleanOldVersions(workdir string, current *version.Version) ([]string, error) {
	if current == nil {
		return nil, nil
	}
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errdefs.ErrIO, workdir, err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !dirVersionPattern.MatchString(entry.Name()) {
			continue
		}
		v, err := version.NewVersion(entry.Name())
		if err != nil || !v.LessThan(current) {
			continue
		}
		path := filepath.Join(workdir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Error("failed to delete old version directory", logging.KeyPath, path, logging.KeyError, err)
			continue
		}
		log.Info("deleted old version", logging.KeyVersion, entry.Name())
		removed = append(removed, path)
	}
	return removed, nil
}

// Launch starts the executable of version v detached from this process,
// with the version directory as its working directory. It does not wait.
func Launch(workdir string, v *version.Version, exe string, args []string) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: no installed version to launch", errdefs.ErrNotFound)
	}
	path, err := ExecutablePath(workdir, v, exe)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Join(workdir, v.String())
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", path, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Debug("failed to release process handle", "pid", pid, logging.KeyError, err)
	}

	log.Info("launched application", logging.KeyPath, path, logging.KeyVersion, v.String(), "pid", pid)
	return pid, nil
}
