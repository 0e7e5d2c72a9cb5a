package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/provider"
)

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func tempWith(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "asset-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestVerifyChecksumValid(t *testing.T) {
	f := tempWith(t, "hello breeze updater")
	if err := VerifyChecksum(f, sum("hello breeze updater")); err != nil {
		t.Fatalf("valid checksum should pass: %v", err)
	}
	var b [5]byte
	if _, err := f.Read(b[:]); err != nil || string(b[:]) != "hello" {
		t.Fatalf("file should be rewound, read %q (%v)", b, err)
	}
}

func TestVerifyChecksumInvalid(t *testing.T) {
	f := tempWith(t, "actual content")
	err := VerifyChecksum(f, strings.Repeat("0", 64))
	if !errors.Is(err, errdefs.ErrVerification) {
		t.Fatalf("error = %v, want ErrVerification", err)
	}
}

func TestParseChecksum(t *testing.T) {
	a, b := sum("a"), sum("b")

	got, err := parseChecksum(strings.NewReader(fmt.Sprintf("%s  app.zip\n%s *other.zip\n", a, b)), "other.zip")
	if err != nil || got != b {
		t.Fatalf("parseChecksum = %q, %v; want %q", got, err, b)
	}

	got, err = parseChecksum(strings.NewReader(strings.ToUpper(a)+"\n"), "app.zip")
	if err != nil || got != a {
		t.Fatalf("bare digest = %q, %v", got, err)
	}

	_, err = parseChecksum(strings.NewReader(fmt.Sprintf("%s  app.zip\n%s  other.zip\n", a, b)), "missing.zip")
	if !errors.Is(err, errdefs.ErrParse) {
		t.Fatalf("missing entry error = %v, want ErrParse", err)
	}
}

func TestFetchChecksum(t *testing.T) {
	digest := sum("payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  app.zip\n", digest)
	}))
	defer srv.Close()

	got, err := FetchChecksum(context.Background(), srv.Client(), provider.Asset{Name: "app.zip.sha256", URL: srv.URL}, "app.zip")
	if err != nil {
		t.Fatalf("FetchChecksum returned error: %v", err)
	}
	if got != digest {
		t.Fatalf("digest = %q, want %q", got, digest)
	}
}
