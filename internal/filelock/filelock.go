// Package filelock coordinates file access across processes: an advisory
// flock wrapper plus temp-file-and-rename atomic writes.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is an advisory, cross-process lock backed by a lock file.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock on the given path. The lock file is created on first
// acquisition.
func New(path string) *FileLock {
	return &FileLock{flock: flock.New(path), path: path}
}

// Lock blocks until the exclusive lock is held.
func (l *FileLock) Lock() error {
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return nil
}

// TryLock attempts the exclusive lock without blocking and reports whether
// it was acquired.
func (l *FileLock) TryLock() (bool, error) {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// AtomicWrite writes data through a temp file in the target's directory
// and renames it into place, so readers never observe a partial file.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}

	tmp = nil
	return nil
}
