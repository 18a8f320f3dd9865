package pathing

import (
	"os"
	"path/filepath"
)

// StoreExtension is appended to the assembly label to name a store file.
const StoreExtension = ".db"

// EnsureDir creates the directory if it does not exist yet.
// Must be called on the storage dir before any store is opened.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// StorePath derives the per-device store file path. The filename is
// write-once: it comes from the immutable assembly label, never from the
// user-assigned display name, so renames never split history.
func StorePath(storageDir, deviceID string) string {
	return filepath.Join(storageDir, deviceID+StoreExtension)
}

func GetDataDir() string {
	return "/var/lib/ct6_collector"
}

func GetConfigDir() string {
	return "/etc/ct6_collector"
}

// GetLockfilePath is the well-known single-writer lockfile location.
// Presence means a writer is active; stale files need manual removal.
func GetLockfilePath() string {
	return filepath.Join(os.TempDir(), "ct6_collector.lock")
}
