package download

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/provider"
)

// ChecksumSuffix names the optional sidecar asset holding an asset's SHA-256.
const ChecksumSuffix = ".sha256"

// FetchChecksum downloads a sha256sum-style sidecar and returns the hex digest
// listed for assetName (or the only digest in the file).
func FetchChecksum(ctx context.Context, client *http.Client, sidecar provider.Asset, assetName string) (string, error) {
	if client == nil {
		client = NewClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sidecar.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", errdefs.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %w", errdefs.ErrNetwork, sidecar.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: fetch %s: status %d", errdefs.ErrNetwork, sidecar.Name, resp.StatusCode)
	}

	return parseChecksum(io.LimitReader(resp.Body, 64*1024), assetName)
}

func parseChecksum(r io.Reader, assetName string) (string, error) {
	var only string
	lines := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		lines++
		sum := strings.ToLower(fields[0])
		if len(sum) != sha256.Size*2 {
			continue
		}
		if len(fields) == 1 {
			only = sum
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == assetName {
			return sum, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: read checksum: %w", errdefs.ErrNetwork, err)
	}
	if lines == 1 && only != "" {
		return only, nil
	}
	return "", fmt.Errorf("%w: no checksum for %s", errdefs.ErrParse, assetName)
}

// VerifyChecksum hashes f from the start and compares it to expected. The
// file is rewound afterwards.
func VerifyChecksum(f *os.File, expected string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind: %w", errdefs.ErrIO, err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("%w: hash download: %w", errdefs.ErrIO, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewind: %w", errdefs.ErrIO, err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return fmt.Errorf("%w: checksum mismatch: expected %s, got %s", errdefs.ErrVerification, expected, actual)
	}
	return nil
}
