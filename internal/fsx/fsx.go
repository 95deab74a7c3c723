// Package fsx provides the filesystem primitives the item repository needs:
// atomic file writes (rename-based durability) and advisory file locking for
// the coarse write lock of spec §5. Adapted from the teacher's
// internal/fs/pkg/fs atomic-write and flock helpers, wired to
// github.com/natefinch/atomic for the actual rename-write.
package fsx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
)

// WriteFileAtomic writes data to path durably: it creates any missing parent
// directories, writes through a temp file in the same directory, and renames
// it over path. Callers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("fsx: mkdir %s: %w", dir, err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("fsx: atomic write %s: %w", path, err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("fsx: chmod %s: %w", path, err)
	}

	return nil
}

// ReadFileIfExists reads path, returning (nil, nil) if it does not exist.
func ReadFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("fsx: read %s: %w", path, err)
	}

	return data, nil
}

// RemoveFile deletes path. Missing files are not an error, so repository
// delete/rollback paths stay idempotent.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsx: remove %s: %w", path, err)
	}

	return nil
}

// ErrLockTimeout is returned by LockExclusiveTimeout when the lock cannot be
// acquired before the deadline.
var ErrLockTimeout = errors.New("fsx: lock timeout")

// Lock represents a held advisory file lock. Close releases it.
type Lock struct {
	file *os.File
}

// Close releases the lock and closes the underlying descriptor. Idempotent.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	unlockErr := syscall.Flock(fd, syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	return errors.Join(unlockErr, closeErr)
}

// LockExclusive blocks until it acquires an exclusive advisory lock on the
// file at path (created if missing). Used for the coarse write lock that
// serializes item-repository transactions (spec §5).
func LockExclusive(path string) (*Lock, error) {
	return lock(path, syscall.LOCK_EX)
}

// LockShared blocks until it acquires a shared advisory lock on the file at
// path (created if missing). It is compatible with other shared holders and
// waits while an exclusive lock is held; nothing in this module takes it.
func LockShared(path string) (*Lock, error) {
	return lock(path, syscall.LOCK_SH)
}

func lock(path string, how int) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("fsx: mkdir for lock %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("fsx: open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("fsx: flock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// LockExclusiveTimeout polls for an exclusive lock until it succeeds or
// timeout elapses, supporting the per-operation deadline of spec §5.
func LockExclusiveTimeout(path string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, fmt.Errorf("fsx: mkdir for lock %s: %w", path, err)
			}

			f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
			if err != nil {
				return nil, fmt.Errorf("fsx: open lock file %s: %w", path, err)
			}
		}

		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &Lock{file: f}, nil
		}

		_ = f.Close()

		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("fsx: flock %s: %w", path, err)
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("fsx: mkdir %s: %w", dir, err)
	}

	return nil
}

// IsNotExist reports whether err indicates a missing file, tolerating the
// "no such file or directory" substring some wrapped errors carry.
func IsNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}
