package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// InstanceLock is an advisory file lock on the data directory. Two serving
// processes sharing one directory would interleave index writes; the lock
// makes the second starter fail fast instead.
type InstanceLock struct {
	fl *flock.Flock
}

// AcquireInstanceLock takes the lock, failing immediately when another
// process holds it.
func AcquireInstanceLock(dataDir string) (*InstanceLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, loupeerr.Internal("create data directory", err)
	}

	fl := flock.New(filepath.Join(dataDir, "loupe.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, loupeerr.Internal("acquire instance lock", err)
	}
	if !locked {
		return nil, loupeerr.ConfigError(
			fmt.Sprintf("another loupe instance is using %s", dataDir), nil)
	}
	return &InstanceLock{fl: fl}, nil
}

// Release drops the lock.
func (l *InstanceLock) Release() error {
	return l.fl.Unlock()
}
