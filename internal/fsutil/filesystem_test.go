package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scene.tsc")
	require.NoError(t, os.WriteFile(path, []byte("old content that is longer"), 0644))

	require.NoError(t, WriteFileAtomic(path, []byte("new"), 0644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".scene.tsc.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteAtomic_FailureKeepsOriginal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scene.tsc")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	err := WriteAtomic(path, 0644, func(f *os.File) error {
		f.Write([]byte("half"))
		return errors.New("interrupted")
	})
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestGlobVisible_SkipsDotfiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"pos_ID3.csv", "._pos_ID3.csv", "pos_ID2.csv", "ori_ID2.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	got, err := GlobVisible(dir, "pos*.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "pos_ID2.csv"), filepath.Join(dir, "pos_ID3.csv")}, got)
}

func TestVisibleSubdirs_Sorted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"10", "02", ".cache", "01"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_modif.csv"), nil, 0644))

	got, err := VisibleSubdirs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02", "10"}, got)
	assert.True(t, Exists(filepath.Join(dir, "01")))
	assert.False(t, Exists(filepath.Join(dir, "99")))
}
