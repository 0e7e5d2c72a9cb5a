package provider

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestLocalFetch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "v1.0.0", "app-linux-x86_64.zip"), 10)
	writeFile(t, filepath.Join(root, "v1.2.0", "app-linux-x86_64.zip"), 1000)
	writeFile(t, filepath.Join(root, "v1.2.0", "checksums.txt"), 4)
	writeFile(t, filepath.Join(root, "README"), 1)

	p, err := NewLocal(root)
	require.NoError(t, err)
	require.NoError(t, p.Fetch(context.Background()))

	latest, err := p.Latest()
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", latest.String())

	a, err := p.FindAsset(latest, "app-linux")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), a.Size)

	u, err := url.Parse(a.URL)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "v1.2.0", "app-linux-x86_64.zip")), u.Path)
}

func TestLocalFetchMissingRoot(t *testing.T) {
	p, err := NewLocal(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Fetch(context.Background()), errdefs.ErrNotFound)
}

func TestNewLocalRequiresPath(t *testing.T) {
	_, err := NewLocal("")
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, Settings{Kind: "GitHub", GitHub: GitHubOptions{Repository: "breeze/app"}})
	require.NoError(t, err)
	assert.Equal(t, "GitHub", p.Name())

	p, err = New(ctx, Settings{Kind: KindLocal, Local: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "Local", p.Name())

	_, err = New(ctx, Settings{})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.EqualError(t, err, "no provider specified")

	_, err = New(ctx, Settings{Kind: "ftp"})
	assert.ErrorIs(t, err, ErrNoProvider)
}
