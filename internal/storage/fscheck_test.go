package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedFS(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "lore.db")

	assert.NoError(t, checkLocalFilesystem(dbPath, fixedFS("apfs")))
	assert.NoError(t, checkLocalFilesystem(dbPath, fixedFS("0xef53")))

	err := checkLocalFilesystem(dbPath, fixedFS("smbfs"))
	assert.ErrorIs(t, err, ErrNetworkFilesystem)
	assert.Contains(t, err.Error(), "smbfs")
	assert.Contains(t, err.Error(), "--db /path/to/local/lore.db")

	err = checkLocalFilesystem(dbPath, func(string) (string, error) { return "", errors.New("statfs failed") })
	assert.ErrorContains(t, err, "statfs failed")

	assert.Error(t, checkLocalFilesystem("", fixedFS("apfs")))
}

func TestCheckLocalFilesystemInspectsClosestExistingDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystem(filepath.Join(root, "nested", "dir", "lore.db"), func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	for fs, want := range map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"apfs":   false,
		"0x6969": false,
	} {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
