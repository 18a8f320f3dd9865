// Single-writer interlock between the live ingestor and the bulk
// backfill. Two writers racing on the same stores would interleave
// rollup rows, so each one must hold the lockfile for its whole run.
package lockfile

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type Lock struct {
	path string
}

// Acquire creates the lockfile exclusively. A clash means another writer
// is active; the caller should fail fast with the returned error.
// A stale file left by a crashed writer requires manual removal — stealing
// a lock that might still be held is worse than asking the operator.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf(
				"another writer is active (lockfile %s exists); "+
					"if no other ct6_collector process is running, remove the file manually", path)
		}
		return nil, fmt.Errorf("create lockfile %s: %w", path, err)
	}
	f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	f.Close()
	return &Lock{path: path}, nil
}

// Release removes the lockfile on clean shutdown.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove lockfile %s: %v", l.path, err)
	}
}
