package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondWriterIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another writer is active")

	lock.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Reacquire after clean release.
	lock, err = Acquire(path)
	require.NoError(t, err)
	lock.Release()
}

func TestReleaseNilLock(t *testing.T) {
	var lock *Lock
	lock.Release() // must not panic
}

func TestLockfileCarriesPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.lock")
	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
