// Package extract unpacks downloaded release archives into an install
// directory, confining every entry to that directory.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/safepath"
)

var log = logging.L("extract")

// Result is the outcome of an extraction that did not fail.
type Result int

const (
	Complete Result = iota
	Cancelled
)

func (r Result) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "complete"
}

// Format identifies an archive layout.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

// DetectFormat picks the archive format from the asset name suffix.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// Archive extracts f, named name, into target. Cancellation is checked once
// per entry; entries already written are left in place.
func Archive(name string, f *os.File, target string, p *progress.Progress) (Result, error) {
	format := DetectFormat(name)
	if format == FormatUnknown {
		return Complete, fmt.Errorf("%w: %s", errdefs.ErrArchiveFormat, name)
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return Complete, fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, target, err)
	}
	root, err := filepath.Abs(target)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return Complete, fmt.Errorf("%w: resolve %s: %w", errdefs.ErrIO, target, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Complete, fmt.Errorf("%w: rewind archive: %w", errdefs.ErrIO, err)
	}

	log.Info("extracting archive", logging.KeyAsset, name, logging.KeyPath, root)

	var res Result
	switch format {
	case FormatZip:
		res, err = extractZip(f, root, p)
	case FormatTarGz:
		res, err = extractTarGz(f, root, p)
	}
	if err != nil {
		return res, err
	}
	log.Info("extraction finished", logging.KeyAsset, name, "result", res.String())
	return res, nil
}

// entryPath returns where the entry name is written under root. Symlinks
// created by earlier entries are followed and must keep the parent inside
// root; the final component itself is not followed.
func entryPath(root, name string) (string, error) {
	joined, err := safepath.Join(root, name)
	if err != nil {
		return "", err
	}
	if joined == root {
		return root, nil
	}
	parent, err := safepath.Resolve(root, filepath.Dir(joined))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(joined)), nil
}

// destination returns the on-disk path for an entry. Directory entries may
// follow a link that stays inside root; other entries never replace root.
func destination(root, name string, dir bool) (string, error) {
	if dir {
		joined, err := safepath.Join(root, name)
		if err != nil {
			return "", err
		}
		return safepath.Resolve(root, joined)
	}
	path, err := entryPath(root, name)
	if err != nil {
		return "", err
	}
	if path == root {
		return "", fmt.Errorf("%w: entry %q names the target directory", errdefs.ErrUnsafePath, name)
	}
	return path, nil
}

// removeLink deletes a symlink at path so a following write replaces the
// link instead of going through it.
func removeLink(path string) error {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: replace link %s: %w", errdefs.ErrIO, path, err)
	}
	return nil
}

func writeFile(path string, r io.Reader, mode os.FileMode, p *progress.Progress, countBytes bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create parent of %s: %w", errdefs.ErrIO, path, err)
	}

	if err := removeLink(path); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, path, err)
	}

	var w io.Writer = out
	if countBytes {
		w = &progressWriter{w: out, p: p}
	}
	if _, err := io.Copy(w, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: write %s: %w", errdefs.ErrIO, path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", errdefs.ErrIO, path, err)
	}
	return restoreMode(path, mode)
}

// restoreMode applies the recorded permission bits. OpenFile honors the
// umask, so the bits are set explicitly afterwards.
func restoreMode(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" || mode.Perm() == 0 {
		return nil
	}
	if err := os.Chmod(path, mode.Perm()); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", errdefs.ErrIO, path, err)
	}
	return nil
}

// writeSymlink creates path -> linkname when the link, followed through the
// links already on disk, resolves inside root. path comes from entryPath.
func writeSymlink(root, path, linkname string) error {
	if _, err := safepath.ResolveLink(root, filepath.Dir(path), filepath.FromSlash(linkname)); err != nil {
		return fmt.Errorf("symlink %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create parent of %s: %w", errdefs.ErrIO, path, err)
	}
	_ = os.Remove(path)
	if err := os.Symlink(linkname, path); err != nil {
		return fmt.Errorf("%w: symlink %s: %w", errdefs.ErrIO, path, err)
	}
	return nil
}

type progressWriter struct {
	w io.Writer
	p *progress.Progress
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.p.AddCurrent(uint64(n))
	return n, err
}
