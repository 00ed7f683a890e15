package importer

import (
	"context"
	"sync"
)

// Locker guards a wallet against concurrent imports. cache.Client implements
// it on top of Redis.
type Locker interface {
	AcquireImportLock(ctx context.Context, wallet, runID string) (bool, error)
	ReleaseImportLock(ctx context.Context, wallet, runID string) error
}

// LocalLocker is an in-process Locker for single-binary use
type LocalLocker struct {
	mutex sync.Mutex
	held  map[string]string
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

func (l *LocalLocker) AcquireImportLock(ctx context.Context, wallet, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, ok := l.held[wallet]; ok {
		return false, nil
	}
	l.held[wallet] = runID
	return true, nil
}

// ReleaseImportLock only releases a lock held by runID
func (l *LocalLocker) ReleaseImportLock(ctx context.Context, wallet, runID string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.held[wallet] == runID {
		delete(l.held, wallet)
	}
	return nil
}
