package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/safepath"
)

// Local reads releases from a local or mounted directory laid out as
// <root>/<tag>/<asset>. Asset URLs use the file scheme.
type Local struct {
	releaseSet
	root string
}

// NewLocal returns a Local provider rooted at root.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("local provider path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local provider path: %w", err)
	}
	return &Local{root: abs}, nil
}

func (p *Local) Name() string { return "Local" }

// Fetch scans the root directory. Tags and assets are listed in name order.
func (p *Local) Fetch(ctx context.Context) error {
	tags, err := os.ReadDir(p.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: release directory %s", errdefs.ErrNotFound, p.root)
		}
		return fmt.Errorf("%w: read release directory: %w", errdefs.ErrIO, err)
	}

	var releases []Release
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !tag.IsDir() {
			continue
		}
		dir, err := safepath.Join(p.root, tag.Name())
		if err != nil {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			log.Warn("skipping unreadable release directory", "path", dir, "error", err)
			continue
		}

		rel := Release{Tag: tag.Name()}
		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			full := filepath.Join(dir, f.Name())
			rel.Assets = append(rel.Assets, Asset{
				Name: f.Name(),
				Size: uint64(info.Size()),
				URL:  fileURL(full),
			})
		}
		sort.Slice(rel.Assets, func(i, j int) bool { return rel.Assets[i].Name < rel.Assets[j].Name })
		releases = append(releases, rel)
	}

	log.Debug("fetched releases", "path", p.root, "count", len(releases))
	p.set(releases)
	return nil
}

func fileURL(path string) string {
	p := filepath.ToSlash(path)
	if filepath.VolumeName(path) != "" {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
