package extract

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/progress"
	)

func extractZip(f *os.File, root string, p *progress.Progress) (Result, error) {
	info, err := f.Stat()
	if err != nil {
		return Complete, fmt.Errorf("%w: stat archive: %w", errdefs.ErrIO, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return Complete, fmt.Errorf("%w: open zip: %w", errdefs.ErrArchiveFormat, err)
	}

	for _, entry := range zr.File {
		p.AddMaximum(entry.UncompressedSize64)
	}
	p.SetIndeterminate(false)

	for _, entry := range zr.File {
		if p.Cancelled() {
			return Cancelled, nil
		}

		mode := entry.Mode()
		path, err := destination(root, entry.Name, mode.IsDir())
		if err != nil {
			return Complete, err
		}

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(path, 0o755); err != nil {
				return Complete, fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, path, err)
			}
			if err := restoreMode(path, mode|0o700); err != nil {
				return Complete, err
			}
		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(entry)
			if err != nil {
				return Complete, err
			}
			if err := writeSymlink(root, path, linkname); err != nil {
				return Complete, err
			}
		default:
			rc, err := entry.Open()
			if err != nil {
				return Complete, fmt.Errorf("%w: open entry %s: %w", errdefs.ErrArchiveFormat, entry.Name, err)
			}
			err = writeFile(path, rc, mode, p, false)
			rc.Close()
			if err != nil {
				return Complete, err
			}
		}

		p.AddCurrent(entry.UncompressedSize64)
	}
	return Complete, nil
}

func readZipEntry(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open entry %s: %w", errdefs.ErrArchiveFormat, entry.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", fmt.Errorf("%w: read entry %s: %w", errdefs.ErrArchiveFormat, entry.Name, err)
	}
	return string(b), nil
}
