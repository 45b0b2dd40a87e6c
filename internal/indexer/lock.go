package indexer

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

// LockFile is created in the data directory by the process that owns the
// index for writing.
const LockFile = "LOCK"

// writerLock guarantees at most one writing Engine per data directory across
// processes. Read-only engines never take it.
type writerLock struct {
	flock  *flock.Flock
	locked bool
}

func acquireWriterLock(dataDir string) (*writerLock, error) {
	l := &writerLock{flock: flock.New(filepath.Join(dataDir, LockFile))}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring writer lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", dataDir, apperrors.ErrIndexLocked)
	}
	l.locked = true
	return l, nil
}

func (l *writerLock) release() error {
	if l == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing writer lock: %w", err)
	}
	return nil
}
