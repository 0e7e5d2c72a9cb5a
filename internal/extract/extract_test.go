package extract

import (
	"archive/tar"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/updater/internal/errdefs"
	"github.com/breeze-rmm/updater/internal/progress"
)

type entry struct {
	name     string
	body     string
	mode     os.FileMode
	linkname string
}

func buildZip(t *testing.T, entries []entry) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "archive-*.zip")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		body := e.body
		if e.linkname != "" {
			mode = os.ModeSymlink | 0o777
			body = e.linkname
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return f
}

func buildTarGz(t *testing.T, entries []entry) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "archive-*.tar.gz")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: e.name, Mode: int64(mode.Perm()), Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.linkname
			hdr.Size = 0
		case mode.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = int64(mode.Perm())
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return f
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatZip, DetectFormat("app-linux-x86_64.ZIP"))
	assert.Equal(t, FormatTarGz, DetectFormat("app.tar.gz"))
	assert.Equal(t, FormatTarGz, DetectFormat("app.tgz"))
	assert.Equal(t, FormatUnknown, DetectFormat("app.rar"))
}

func TestArchiveUnknownFormat(t *testing.T) {
	f := buildZip(t, nil)
	_, err := Archive("app.7z", f, t.TempDir(), progress.New())
	assert.ErrorIs(t, err, errdefs.ErrArchiveFormat)
	assert.Contains(t, err.Error(), "unknown archive format")
}

func TestExtractZip(t *testing.T) {
	f := buildZip(t, []entry{
		{name: "bin/", mode: os.ModeDir | 0o755},
		{name: "bin/app", body: "#!/bin/sh\necho hi\n", mode: 0o755},
		{name: "share/readme.txt", body: "hello"},
	})
	target := t.TempDir()
	p := progress.New()

	res, err := Archive("app.zip", f, target, p)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)

	data, err := os.ReadFile(filepath.Join(target, "share", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.False(t, p.Indeterminate())
	total := uint64(len("#!/bin/sh\necho hi\n") + len("hello"))
	assert.Equal(t, total, p.Maximum())
	assert.Equal(t, total, p.Current())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(target, "bin", "app"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	f := buildZip(t, []entry{{name: "../evil.txt", body: "pwned"}})
	root := t.TempDir()
	target := filepath.Join(root, "install")

	_, err := Archive("app.zip", f, target, progress.New())
	assert.ErrorIs(t, err, errdefs.ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(root, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr), "entry escaped the target directory")
}

func TestExtractZipCancelledBeforeFirstEntry(t *testing.T) {
	f := buildZip(t, []entry{{name: "a.txt", body: "a"}})
	target := t.TempDir()
	p := progress.New()
	p.SetCancelled(true)

	res, err := Archive("app.zip", f, target, p)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res)

	_, statErr := os.Stat(filepath.Join(target, "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractTarGz(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	f := buildTarGz(t, []entry{
		{name: "app/", mode: os.ModeDir | 0o755},
		{name: "app/run", body: "binary", mode: 0o750},
		{name: "app/current", linkname: "run"},
	})
	target := t.TempDir()
	p := progress.New()

	res, err := Archive("app.tar.gz", f, target, p)
	require.NoError(t, err)
	assert.Equal(t, Complete, res)
	assert.True(t, p.Indeterminate(), "tar.gz progress stays indeterminate")
	assert.Equal(t, uint64(len("binary")), p.Current())

	info, err := os.Stat(filepath.Join(target, "app", "run"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(target, "app", "current"))
	require.NoError(t, err)
	assert.Equal(t, "run", link)
}

func TestExtractTarGzRejectsEscapingSymlink(t *testing.T) {
	f := buildTarGz(t, []entry{{name: "app/link", linkname: "../../etc/passwd"}})
	_, err := Archive("app.tgz", f, t.TempDir(), progress.New())
	assert.ErrorIs(t, err, errdefs.ErrUnsafePath)
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	f := buildTarGz(t, []entry{{name: "../../evil", body: "x"}})
	_, err := Archive("app.tar.gz", f, t.TempDir(), progress.New())
	assert.ErrorIs(t, err, errdefs.ErrUnsafePath)
}

func TestExtractTarGzCancelled(t *testing.T) {
	f := buildTarGz(t, []entry{{name: "a", body: "a"}})
	p := progress.New()
	p.SetCancelled(true)

	res, err := Archive("app.tar.gz", f, t.TempDir(), p)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res)
}

// chainedLinkEntries points a at the extraction root and a/b at its parent,
// so b/pwned would land beside the target if links were checked only as text.
var chainedLinkEntries = []entry{
	{name: "a", linkname: "."},
	{name: "a/b", linkname: ".."},
	{name: "b/pwned", body: "owned"},
}

func assertChainContained(t *testing.T, name string, f *os.File) {
	t.Helper()
	parent := t.TempDir()
	target := filepath.Join(parent, "app")

	_, err := Archive(name, f, target, progress.New())
	assert.ErrorIs(t, err, errdefs.ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(parent, "pwned"))
	assert.True(t, os.IsNotExist(statErr), "nothing may be written beside the target")
	_, statErr = os.Lstat(filepath.Join(target, "b"))
	assert.True(t, os.IsNotExist(statErr), "the escaping link must not be created")
}

func TestExtractZipRejectsChainedSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	assertChainContained(t, "app.zip", buildZip(t, chainedLinkEntries))
}

func TestExtractTarGzRejectsChainedSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	assertChainContained(t, "app.tar.gz", buildTarGz(t, chainedLinkEntries))
}

func TestExtractTarGzFileReplacesEarlierSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	f := buildTarGz(t, []entry{
		{name: "real", body: "orig"},
		{name: "link", linkname: "real"},
		{name: "link", body: "new"},
	})
	target := t.TempDir()

	_, err := Archive("app.tar.gz", f, target, progress.New())
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(target, "real"))
	require.NoError(t, err)
	assert.Equal(t, "orig", string(got))

	info, err := os.Lstat(filepath.Join(target, "link"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestExtractZipFollowsLinkInsideTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	f := buildZip(t, []entry{
		{name: "lib/", mode: os.ModeDir | 0o755},
		{name: "current", linkname: "lib"},
		{name: "current/core.so", body: "so"},
	})
	target := t.TempDir()

	_, err := Archive("app.zip", f, target, progress.New())
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(target, "lib", "core.so"))
	require.NoError(t, err)
	assert.Equal(t, "so", string(got))
}
