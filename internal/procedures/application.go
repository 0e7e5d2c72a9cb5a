package procedures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/extract"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/updater"
)

// AppData is the context of the application procedure.
type AppData struct {
	UpdateState
	AppName string
	// Directory holds one sub-directory per installed version.
	Directory string
}

// InstallDir returns the directory the latest version is unpacked into.
func (d *AppData) InstallDir() string {
	if d.Latest == nil {
		return ""
	}
	return filepath.Join(d.Directory, d.Latest.String())
}

// NewApplication returns the check, download and install procedure for the
// managed application.
func NewApplication(data *AppData, opts ...updater.Option) *updater.Procedure[AppData] {
	proc := updater.New(data.AppName+" Updater", data, opts...)

	proc.AddStep(updater.NewStep(LabelCheck, func(ctx context.Context, d *AppData, _ *progress.Progress) (updater.Action, error) {
		return checkVersion(ctx, &d.UpdateState, d.AppName)
	}))

	proc.AddStep(&updater.FuncStep[AppData]{
		LabelFunc: func(d *AppData) string { return downloadLabel(&d.UpdateState) },
		ExecFunc: func(ctx context.Context, d *AppData, p *progress.Progress) (updater.Action, error) {
			return downloadAsset(ctx, &d.UpdateState, p)
		},
	})

	proc.AddStep(updater.NewStep(LabelInstall, installApplication).WithVerify(func(d *AppData) error {
		info, err := os.Stat(d.InstallDir())
		if err != nil || !info.IsDir() {
			return fmt.Errorf("install directory %s missing", d.InstallDir())
		}
		return nil
	}))

	proc.OnFinish(func(d *AppData) { d.Cleanup() })
	return proc
}

// installApplication unpacks the download into a fresh <dir>/<version>
// directory. A failed extraction removes that directory again; other
// installed versions are never touched.
func installApplication(_ context.Context, d *AppData, p *progress.Progress) (updater.Action, error) {
	if d.File == nil || d.Asset == nil {
		return updater.Continue, fmt.Errorf("%w: nothing downloaded", errdefs.ErrNotFound)
	}
	defer d.Cleanup()

	dir := d.InstallDir()
	log.Info("installing", "name", d.AppName, logging.KeyVersion, d.Latest.String(), logging.KeyPath, dir)

	if err := os.RemoveAll(dir); err != nil {
		return updater.Continue, fmt.Errorf("%w: clear %s: %w", errdefs.ErrIO, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return updater.Continue, fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, dir, err)
	}

	res, err := extract.Archive(d.Asset.Name, d.File, dir, p)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn("failed to remove partial install", logging.KeyPath, dir, logging.KeyError, rmErr)
		}
		return updater.Continue, err
	}
	if res == extract.Cancelled {
		return updater.Cancel, nil
	}
	return updater.Continue, nil
}
