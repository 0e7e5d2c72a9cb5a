// Package procedures assembles the update procedures run by the launcher:
// installing or updating the managed application, and replacing the
// launcher's own executable.
package procedures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/updater/internal/download"
	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/provider"
	"github.com/breeze-rmm/updater/internal/updater"
)

var log = logging.L("procedures")

// Step labels shown to observers.
const (
	LabelCleanup = "Cleaning up..."
	LabelCheck   = "Checking for latest version..."
	LabelInstall = "Installing..."
)

// UpdateState is the part of a procedure's data shared by every procedure:
// the release source, what is installed, and the results of the check and
// download steps.
type UpdateState struct {
	Provider provider.Provider
	// AssetName is the resolved asset name (or prefix) to look for.
	AssetName string
	// Current is the installed version; nil means nothing is installed.
	Current *version.Version
	// Client downloads assets. Nil uses download.NewClient.
	Client *http.Client
	// RequireChecksum fails the download when no <asset>.sha256 sidecar
	// exists. Without it, a sidecar is verified only when present.
	RequireChecksum bool

	Latest *version.Version
	Asset  *provider.Asset
	File   *os.File
}

// Cleanup removes a downloaded file that no step consumed.
func (s *UpdateState) Cleanup() {
	if s.File != nil {
		download.Discard(s.File)
		s.File = nil
	}
}

func downloadLabel(s *UpdateState) string {
	var size uint64
	if s.Asset != nil {
		size = s.Asset.Size
	}
	return fmt.Sprintf("Downloading %.2f MB", float64(size)/1_000_000)
}

// checkVersion fetches metadata and completes the procedure when the latest
// release is not strictly newer than the installed one.
func checkVersion(ctx context.Context, s *UpdateState, name string) (updater.Action, error) {
	log.Info("checking for latest version", "provider", s.Provider.Name(), "name", name)
	if err := s.Provider.Fetch(ctx); err != nil {
		return updater.Continue, err
	}

	latest, err := s.Provider.Latest()
	if err != nil {
		return updater.Continue, err
	}
	s.Latest = latest

	if !provider.IsNewer(latest, s.Current) {
		log.Info("up to date", "name", name, logging.KeyVersion, latest.String())
		return updater.Complete, nil
	}

	asset, err := s.Provider.FindAsset(latest, s.AssetName)
	if err != nil {
		return updater.Continue, err
	}
	s.Asset = &asset

	from := "none"
	if s.Current != nil {
		from = s.Current.String()
	}
	log.Info("update available", "name", name, "from", from, "to", latest.String(), logging.KeyAsset, asset.Name)
	return updater.Continue, nil
}

func downloadAsset(ctx context.Context, s *UpdateState, p *progress.Progress) (updater.Action, error) {
	if s.Asset == nil {
		return updater.Continue, fmt.Errorf("%w: no asset resolved", errdefs.ErrNotFound)
	}

	res, err := download.Download(ctx, s.Client, *s.Asset, p)
	if err != nil {
		return updater.Continue, fmt.Errorf("asset download failed: %w", err)
	}
	if res.Cancelled {
		return updater.Cancel, nil
	}

	if err := verifySidecar(ctx, s, res.File); err != nil {
		download.Discard(res.File)
		return updater.Continue, err
	}

	s.File = res.File
	return updater.Continue, nil
}

func verifySidecar(ctx context.Context, s *UpdateState, f *os.File) error {
	sidecar, err := s.Provider.Asset(s.Latest, s.Asset.Name+download.ChecksumSuffix)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) && !s.RequireChecksum {
			return nil
		}
		return fmt.Errorf("%w: checksum for %s: %w", errdefs.ErrVerification, s.Asset.Name, err)
	}

	expected, err := download.FetchChecksum(ctx, s.Client, sidecar, s.Asset.Name)
	if err != nil {
		return err
	}
	if err := download.VerifyChecksum(f, expected); err != nil {
		return err
	}
	log.Info("checksum verified", logging.KeyAsset, s.Asset.Name)
	return nil
}
