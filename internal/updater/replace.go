package updater

import (
	"errors"
	"fmt"
	"os"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
)

// rename is swapped in tests to simulate filesystem failures.
var rename = os.Rename

// UnrecoverableError reports a swap whose rollback failed too. Target may
// no longer exist; the original binary is at Backup.
type UnrecoverableError struct {
	Target     string
	Backup     string
	ReplaceErr error
	RestoreErr error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("%s: replacing %s failed (%v) and restoring it from %s failed (%v)",
		errdefs.ErrUnrecoverableState, e.Target, e.ReplaceErr, e.Backup, e.RestoreErr)
}

func (e *UnrecoverableError) Unwrap() []error {
	return []error{errdefs.ErrUnrecoverableState, e.ReplaceErr, e.RestoreErr}
}

// ReplaceExecutable swaps target for replacement, keeping the original at
// backup. Target is only ever renamed, so it may be the running executable.
// On success backup stays on disk; remove it on a later run with RemoveStale.
func ReplaceExecutable(replacement, target, backup string) error {
	info, err := os.Stat(replacement)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: replacement %s", errdefs.ErrNotFound, replacement)
	}

	if err := rename(target, backup); err != nil {
		log.Error("failed to move target to backup", logging.KeyPath, target, logging.KeyError, err)
		return fmt.Errorf("%w: move %s aside: %w", errdefs.ErrIO, target, err)
	}

	if err := rename(replacement, target); err != nil {
		log.Error("failed to move replacement into place", logging.KeyPath, target, logging.KeyError, err)

		if restoreErr := rename(backup, target); restoreErr != nil {
			log.Error("failed to restore original executable", logging.KeyPath, target, logging.KeyError, restoreErr)
			return &UnrecoverableError{Target: target, Backup: backup, ReplaceErr: err, RestoreErr: restoreErr}
		}
		return fmt.Errorf("%w: install %s (original restored): %w", errdefs.ErrIO, target, err)
	}

	log.Info("executable replaced", logging.KeyPath, target, "backup", backup)
	return nil
}

// RemoveStale deletes a backup left by an earlier ReplaceExecutable.
// A missing file is not an error.
func RemoveStale(backup string) error {
	err := os.Remove(backup)
	if err == nil {
		log.Info("removed stale backup", logging.KeyPath, backup)
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: remove stale backup %s: %w", errdefs.ErrIO, backup, err)
}
