package procedures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/updater"
)

// SelfTitle is the title of the self-update procedure.
const SelfTitle = "Self-Updater"

// SelfData is the context of the self-update procedure.
type SelfData struct {
	UpdateState
	// Executable is the path of the running launcher binary.
	Executable string
}

// NewPath is where the new binary is staged, next to the executable so the
// final rename stays on one volume.
func (d *SelfData) NewPath() string { return d.Executable + ".new" }

// BackupPath keeps the previous binary until the next run.
func (d *SelfData) BackupPath() string { return d.Executable + ".old" }

// NewSelf returns the cleanup, check, download and install procedure for the
// launcher itself.
func NewSelf(data *SelfData, opts ...updater.Option) *updater.Procedure[SelfData] {
	proc := updater.New(SelfTitle, data, opts...)

	proc.AddStep(updater.NewStep(LabelCleanup, func(_ context.Context, d *SelfData, _ *progress.Progress) (updater.Action, error) {
		return updater.Continue, updater.RemoveStale(d.BackupPath())
	}))

	proc.AddStep(updater.NewStep(LabelCheck, func(ctx context.Context, d *SelfData, _ *progress.Progress) (updater.Action, error) {
		return checkVersion(ctx, &d.UpdateState, SelfTitle)
	}))

	proc.AddStep(&updater.FuncStep[SelfData]{
		LabelFunc: func(d *SelfData) string { return downloadLabel(&d.UpdateState) },
		ExecFunc: func(ctx context.Context, d *SelfData, p *progress.Progress) (updater.Action, error) {
			return downloadAsset(ctx, &d.UpdateState, p)
		},
	})

	proc.AddStep(updater.NewStep(LabelInstall, installSelf))
	proc.OnFinish(func(d *SelfData) { d.Cleanup() })
	return proc
}

func installSelf(_ context.Context, d *SelfData, _ *progress.Progress) (updater.Action, error) {
	if d.File == nil {
		return updater.Continue, fmt.Errorf("%w: nothing downloaded", errdefs.ErrNotFound)
	}
	defer d.Cleanup()

	staged := d.NewPath()
	if err := copyExecutable(d.File, staged); err != nil {
		os.Remove(staged)
		return updater.Continue, err
	}

	if err := updater.ReplaceExecutable(staged, d.Executable, d.BackupPath()); err != nil {
		if rmErr := os.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("failed to remove staged executable", logging.KeyPath, staged, logging.KeyError, rmErr)
		}
		return updater.Continue, err
	}

	log.Info("launcher updated", logging.KeyVersion, d.Latest.String(), logging.KeyPath, d.Executable)
	return updater.Continue, nil
}

func copyExecutable(src *os.File, dst string) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind download: %w", errdefs.ErrIO, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("%w: copy to %s: %w", errdefs.ErrIO, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("%w: flush %s: %w", errdefs.ErrIO, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", errdefs.ErrIO, dst, err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(dst, 0o755); err != nil {
			return fmt.Errorf("%w: chmod %s: %w", errdefs.ErrIO, dst, err)
		}
	}
	return nil
}
