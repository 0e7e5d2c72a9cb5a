// Package errdefs defines the error kinds shared by the updater packages.
// Callers wrap one of these sentinels with context and inspect results with
// errors.Is.
package errdefs

import "errors"

var (
	// ErrNetwork marks transport or HTTP status failures.
	ErrNetwork = errors.New("network error")

	// ErrParse marks malformed release metadata or an unparsable version.
	ErrParse = errors.New("parse error")

	// ErrNotFound marks a missing release, asset or replacement file.
	ErrNotFound = errors.New("not found")

	// ErrIO marks filesystem create, rename or copy failures.
	ErrIO = errors.New("io error")

	// ErrArchiveFormat marks an archive whose suffix is not recognized.
	ErrArchiveFormat = errors.New("unknown archive format")

	// ErrUnsafePath marks an archive entry that would be written outside the
	// extraction directory.
	ErrUnsafePath = errors.New("archive entry escapes target directory")

	// ErrVerification marks a failed step post-condition.
	ErrVerification = errors.New("verification failed")

	// ErrLockHeld is returned when another updater instance holds the process lock.
	ErrLockHeld = errors.New("updater already running")

	// ErrUnrecoverableState is returned when an executable swap failed and the
	// original could not be restored. The target path may not exist.
	ErrUnrecoverableState = errors.New("unrecoverable state")
)
