// Package download streams a release asset into a temporary file while
// publishing byte progress and honoring cooperative cancellation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/logging"
	"github.com/breeze-rmm/updater/internal/progress"
	"github.com/breeze-rmm/updater/internal/provider"
)

var log = logging.L("download")

const chunkSize = 16 * 1024

// UserAgent is sent with every download request.
var UserAgent = "breeze-updater"

// Result is the outcome of a download that did not fail.
type Result struct {
	// File is positioned at offset zero. Nil when Cancelled.
	File      *os.File
	Cancelled bool
}

// NewClient returns the client used for asset downloads. It has no overall
// timeout and can also fetch file:// URLs.
func NewClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.RegisterProtocol("file", fileTransport{})
	return &http.Client{Transport: t}
}

// Download fetches asset into a new temporary file. Cancellation is checked
// before every chunk read; on cancellation the partial file is removed.
// The caller owns the returned file and should release it with Discard.
func Download(ctx context.Context, client *http.Client, asset provider.Asset, p *progress.Progress) (Result, error) {
	if client == nil {
		client = NewClient()
	}

	log.Info("downloading asset",
		logging.KeyAsset, asset.Name,
		"sizeMB", fmt.Sprintf("%.2f", float64(asset.Size)/1_000_000),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %w", errdefs.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Cancelled: true}, nil
		}
		return Result{}, fmt.Errorf("%w: request %s: %w", errdefs.ErrNetwork, asset.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: download %s: status %d", errdefs.ErrNetwork, asset.Name, resp.StatusCode)
	}

	p.SetMaximum(asset.Size)
	p.SetIndeterminate(false)

	out, err := os.CreateTemp("", "breeze-updater-*.download")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %w", errdefs.ErrIO, err)
	}

	cancelled, err := copyChunks(ctx, out, resp.Body, p)
	if err != nil || cancelled {
		Discard(out)
		if err != nil {
			return Result{}, err
		}
		log.Info("download cancelled", logging.KeyAsset, asset.Name, "bytes", p.Current())
		return Result{Cancelled: true}, nil
	}

	if err := out.Sync(); err != nil {
		Discard(out)
		return Result{}, fmt.Errorf("%w: flush download: %w", errdefs.ErrIO, err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		Discard(out)
		return Result{}, fmt.Errorf("%w: rewind download: %w", errdefs.ErrIO, err)
	}

	log.Info("download finished", logging.KeyAsset, asset.Name, "bytes", p.Current())
	return Result{File: out}, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, p *progress.Progress) (bool, error) {
	buf := make([]byte, chunkSize)
	for {
		if p.Cancelled() || ctx.Err() != nil {
			return true, nil
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return false, fmt.Errorf("%w: write download: %w", errdefs.ErrIO, werr)
			}
			p.AddCurrent(uint64(n))
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return false, nil
		case errors.Is(err, syscall.EINTR):
		default:
			if ctx.Err() != nil {
				return true, nil
			}
			return false, fmt.Errorf("%w: read download: %w", errdefs.ErrNetwork, err)
		}
	}
}

// Discard closes f and removes it from disk. It accepts nil.
func Discard(f *os.File) {
	if f == nil {
		return
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove temporary download", logging.KeyPath, name, logging.KeyError, err)
	}
}
