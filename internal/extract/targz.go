package extract

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/progress"
	)

// extractTarGz streams entries one at a time. The total size is unknown up
// front, so progress stays indeterminate and only counts written bytes.
func extractTarGz(f *os.File, root string, p *progress.Progress) (Result, error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		return Complete, fmt.Errorf("%w: open gzip: %w", errdefs.ErrArchiveFormat, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if p.Cancelled() {
			return Cancelled, nil
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return Complete, nil
		}
		if err != nil {
			return Complete, fmt.Errorf("%w: read tar: %w", errdefs.ErrArchiveFormat, err)
		}

		path, err := destination(root, hdr.Name, hdr.Typeflag == tar.TypeDir)
		if err != nil {
			return Complete, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return Complete, fmt.Errorf("%w: create %s: %w", errdefs.ErrIO, path, err)
			}
			if err := restoreMode(path, hdr.FileInfo().Mode()|0o700); err != nil {
				return Complete, err
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, hdr.FileInfo().Mode(), p, true); err != nil {
				return Complete, err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(root, path, hdr.Linkname); err != nil {
				return Complete, err
			}
		default:
			log.Debug("skipping tar entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}
