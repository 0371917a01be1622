package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "5000000962482.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		w.Write([]byte(body))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestExtractFlatten(t *testing.T) {
	src := writeZip(t, map[string]string{
		"173386050/processed_ATL07-01_20190622055317_12980301_003_01.h5": "granule",
		"173386050/processed_ATL07-01_20190622055317_12980301_003_01.iso.xml": "meta",
	})
	dest := t.TempDir()

	files, err := Extract(src, dest, Options{Flatten: true, RemoveArchive: true})
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{
		filepath.Join(dest, "processed_ATL07-01_20190622055317_12980301_003_01.h5"),
		filepath.Join(dest, "processed_ATL07-01_20190622055317_12980301_003_01.iso.xml"),
	}, files)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestExtractKeepsFolders(t *testing.T) {
	src := writeZip(t, map[string]string{"a/b.txt": "x"})
	dest := t.TempDir()
	files, err := Extract(src, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "a", "b.txt")}, files)
}

func TestExtractRejectsTraversal(t *testing.T) {
	src := writeZip(t, map[string]string{"../../evil.sh": "x"})
	_, err := Extract(src, t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestIsZip(t *testing.T) {
	assert.True(t, IsZip("5000000962482.ZIP"))
	assert.False(t, IsZip("granule.h5"))
}
