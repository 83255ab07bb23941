package apiclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

const (
	lockAttempts   = 50
	lockRetryDelay = 100 * time.Millisecond
	staleLockAge   = 30 * time.Second
)

// fileLock is an exclusive lock held through a sibling ".lock" file so that
// several CLI processes sharing a token file do not interleave writes.
type fileLock struct {
	f    *os.File
	path string
}

func acquireFileLock(target string) (*fileLock, error) {
	path := target + ".lock"

	for range lockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		stale, err := removeStaleLock(path)
		if err != nil {
			return nil, err
		}
		if !stale {
			time.Sleep(lockRetryDelay)
		}
	}

	return nil, fmt.Errorf("timeout waiting for file lock after %v", lockAttempts*lockRetryDelay)
}

// removeStaleLock deletes a lock file abandoned by a crashed process.
func removeStaleLock(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= staleLockAge {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale lock file %s: %w", path, err)
	}
	return true, nil
}

func (l *fileLock) release() error {
	if l.f != nil {
		l.f.Close()
	}
	return os.Remove(l.path)
}
