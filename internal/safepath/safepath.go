// Package safepath confines untrusted relative paths (archive entries, release
// tags, asset names) to a base directory.
package safepath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

// Join resolves untrusted under base and returns the absolute result. It fails
// with errdefs.ErrUnsafePath when the result would leave base.
func Join(base, untrusted string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	if filepath.IsAbs(untrusted) || filepath.VolumeName(untrusted) != "" {
		return "", fmt.Errorf("%w: %q is absolute", errdefs.ErrUnsafePath, untrusted)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrusted))
	if !Within(absBase, joined) {
		return "", fmt.Errorf("%w: %q resolves outside %q", errdefs.ErrUnsafePath, untrusted, absBase)
	}
	return joined, nil
}

// Within reports whether the cleaned absolute path p is base or lies below it.
func Within(base, p string) bool {
	base = filepath.Clean(base)
	p = filepath.Clean(p)
	return p == base || strings.HasPrefix(p, base+string(filepath.Separator))
}

// maxLinks bounds symlink expansion in Resolve.
const maxLinks = 40

// Resolve returns the on-disk location of p, which must lie lexically under
// root, following every symlink that already exists along the way. Each
// step must stay inside root; components that do not exist yet are taken
// as written. root should itself be free of symlinks (see filepath.EvalSymlinks).
func Resolve(root, p string) (string, error) {
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside %q", errdefs.ErrUnsafePath, p, root)
	}

	return walk(root, root, splitPath(rel), p)
}

// ResolveLink returns where a symlink in dir pointing at dest leads, walking
// dest as the OS would (without lexical cleaning) and following links that
// already exist. dir must be an on-disk directory inside root.
func ResolveLink(root, dir, dest string) (string, error) {
	root = filepath.Clean(root)
	if filepath.IsAbs(dest) || filepath.VolumeName(dest) != "" {
		return "", fmt.Errorf("%w: link to absolute path %q", errdefs.ErrUnsafePath, dest)
	}
	if !Within(root, dir) {
		return "", fmt.Errorf("%w: %q is outside %q", errdefs.ErrUnsafePath, dir, root)
	}
	return walk(root, filepath.Clean(dir), splitPath(dest), dest)
}

func walk(root, cur string, pending []string, p string) (string, error) {
	links := 0
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		switch name {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			if !Within(root, cur) {
				return "", fmt.Errorf("%w: %q leads outside %q", errdefs.ErrUnsafePath, p, root)
			}
			continue
		}

		next := filepath.Join(cur, name)
		info, err := os.Lstat(next)
		if errors.Is(err, fs.ErrNotExist) {
			cur = next
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: stat %s: %w", errdefs.ErrIO, next, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}

		links++
		if links > maxLinks {
			return "", fmt.Errorf("%w: too many links resolving %q", errdefs.ErrUnsafePath, p)
		}
		dest, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("%w: readlink %s: %w", errdefs.ErrIO, next, err)
		}
		if filepath.IsAbs(dest) || filepath.VolumeName(dest) != "" {
			return "", fmt.Errorf("%w: link %s points to absolute path %q", errdefs.ErrUnsafePath, next, dest)
		}
		pending = append(splitPath(dest), pending...)
	}
	return cur, nil
}

func splitPath(p string) []string {
	return strings.Split(filepath.ToSlash(p), "/")
}
