// Package provider resolves release metadata and downloadable assets from a
// release source.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

// Asset is one downloadable file of a release.
type Asset struct {
	Name string
	Size uint64
	URL  string
}

// Release is a tagged set of assets.
type Release struct {
	Tag    string
	Assets []Asset
}

// Provider fetches release metadata and resolves assets for a version.
type Provider interface {
	// Name returns a display name for logs.
	Name() string
	// Fetch loads release metadata, replacing anything fetched before.
	Fetch(ctx context.Context) error
	// Latest returns the highest version across all fetched releases.
	Latest() (*version.Version, error)
	// Assets lists the assets of the release matching v.
	Assets(v *version.Version) ([]Asset, error)
	// Asset returns the asset of release v whose name equals name.
	Asset(v *version.Version, name string) (Asset, error)
	// FindAsset returns the first asset of release v whose name starts with name.
	FindAsset(v *version.Version, name string) (Asset, error)
}

// releaseSet implements the lookup half of Provider over fetched releases.
// Concrete providers embed it and fill it from Fetch.
type releaseSet struct {
	releases []Release
}

func (s *releaseSet) set(releases []Release) {
	s.releases = releases
}

// Releases returns the fetched releases in source order.
func (s *releaseSet) Releases() []Release {
	return s.releases
}

func (s *releaseSet) Latest() (*version.Version, error) {
	if len(s.releases) == 0 {
		return nil, fmt.Errorf("%w: no releases fetched", errdefs.ErrNotFound)
	}

	var latest *version.Version
	for _, r := range s.releases {
		v, err := ExtractVersion(r.Tag)
		if err != nil {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no release tag contains a version", errdefs.ErrParse)
	}
	return latest, nil
}

func (s *releaseSet) release(v *version.Version) (*Release, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: no version given", errdefs.ErrNotFound)
	}
	for i := range s.releases {
		rv, err := ExtractVersion(s.releases[i].Tag)
		if err != nil {
			continue
		}
		if rv.Equal(v) {
			return &s.releases[i], nil
		}
	}
	return nil, fmt.Errorf("%w: release %s", errdefs.ErrNotFound, v)
}

func (s *releaseSet) Assets(v *version.Version) ([]Asset, error) {
	r, err := s.release(v)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, len(r.Assets))
	copy(out, r.Assets)
	return out, nil
}

func (s *releaseSet) Asset(v *version.Version, name string) (Asset, error) {
	r, err := s.release(v)
	if err != nil {
		return Asset{}, err
	}
	for _, a := range r.Assets {
		if a.Name == name {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: asset %q in release %s", errdefs.ErrNotFound, name, r.Tag)
}

func (s *releaseSet) FindAsset(v *version.Version, name string) (Asset, error) {
	r, err := s.release(v)
	if err != nil {
		return Asset{}, err
	}
	for _, a := range r.Assets {
		if strings.HasPrefix(a.Name, name) {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: no asset starting with %q in release %s", errdefs.ErrNotFound, name, r.Tag)
}
