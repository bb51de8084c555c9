package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// lockFileName is created inside the data directory while a process owns it.
const lockFileName = "ytmusic.lock"

// DirLock guards a data directory against a second process running the
// coordinator, the scheduler and the sync worker on the same databases.
type DirLock struct {
	path string
	file *os.File
}

// NewDirLock creates a lock for dir. The lock is not acquired until Lock is called.
func NewDirLock(dir string) *DirLock {
	return &DirLock{path: filepath.Join(dir, lockFileName)}
}

// Path returns the lock file location.
func (l *DirLock) Path() string { return l.path }

// Lock acquires the exclusive lock, polling until timeout elapses or ctx ends.
// Returns ErrLockTimeout if another process keeps holding it.
func (l *DirLock) Lock(ctx context.Context, timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &StorageError{Op: "lock", Entity: "data dir", ID: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := tryLock(f); err == nil {
			l.file = f
			return nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			f.Close()
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	f.Close()
	return ErrLockTimeout
}

// Unlock releases the lock and removes the lock file.
func (l *DirLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	unlock(l.file)
	l.file.Close()
	os.Remove(l.path)
	l.file = nil
	return nil
}
