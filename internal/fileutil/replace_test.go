package fileutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestWriteFileKeepsBoundedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	for i := 1; i <= 5; i++ {
		require.NoError(t, WriteFile(path, []byte("v"+strconv.Itoa(i)), 2))
	}

	assert.Equal(t, "v5", read(t, path))
	assert.Equal(t, "v4", read(t, BackupPath(path, 1)))
	assert.Equal(t, "v3", read(t, BackupPath(path, 2)))
	assert.NoFileExists(t, BackupPath(path, 3))
	assert.NoFileExists(t, TempPath(path))
}

func TestWriteFileWithoutBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xml")

	require.NoError(t, WriteFile(path, []byte("one"), 0))
	require.NoError(t, WriteFile(path, []byte("two"), 0))

	assert.Equal(t, "two", read(t, path))
	assert.NoFileExists(t, BackupPath(path, 1))
}

func TestReplaceRemovesStaleBackupsWhenLimitShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	for i := 1; i <= 4; i++ {
		require.NoError(t, WriteFile(path, []byte("v"+strconv.Itoa(i)), 3))
	}
	require.FileExists(t, BackupPath(path, 3))

	require.NoError(t, WriteFile(path, []byte("v5"), 1))
	assert.Equal(t, "v4", read(t, BackupPath(path, 1)))
	assert.NoFileExists(t, BackupPath(path, 2))
	assert.NoFileExists(t, BackupPath(path, 3))
}

func TestReplaceFirstWriteHasNoBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh")
	require.NoError(t, WriteFile(path, []byte("x"), 3))
	assert.NoFileExists(t, BackupPath(path, 1))
}
