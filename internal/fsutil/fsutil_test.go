package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistsAndMissing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")

	assert.False(t, Exists(file))
	missing, err := Missing(file)
	require.NoError(t, err)
	assert.True(t, missing)

	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.True(t, Exists(file))
	missing, err = Missing(file)
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	got, err := EnsureDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)

	_, err = EnsureDir(dir)
	assert.NoError(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "CMakeLists.txt")

	require.NoError(t, WriteFileAtomic(name, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(name, []byte("second"), 0o644))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
