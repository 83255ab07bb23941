package apiclient

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock_BasicAcquireRelease(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := acquireFileLock(testFile)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := testFile + ".lock"
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file was not created")
	}

	if err := lock.release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file was not removed after release")
	}
}

func TestFileLock_ConcurrentAccess(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 8
	const iterations = 4

	var (
		holders      atomic.Int32
		successCount atomic.Int32
		wg           sync.WaitGroup
	)

	wg.Add(goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			for j := range iterations {
				lock, err := acquireFileLock(testFile)
				if err != nil {
					t.Errorf("goroutine %d iteration %d: %v", i, j, err)
					return
				}
				if holders.Add(1) != 1 {
					t.Errorf("goroutine %d: lock held concurrently", i)
				}
				time.Sleep(5 * time.Millisecond)
				holders.Add(-1)
				successCount.Add(1)

				if err := lock.release(); err != nil {
					t.Errorf("goroutine %d iteration %d: release: %v", i, j, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got, want := successCount.Load(), int32(goroutines*iterations); got != want {
		t.Errorf("successful acquisitions = %d, want %d", got, want)
	}
	if _, err := os.Stat(testFile + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all goroutines finished")
	}
}

func TestFileLock_StaleLockCleanup(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := testFile + ".lock"

	stale, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to create stale lock: %v", err)
	}
	stale.Close()

	old := time.Now().Add(-staleLockAge - 5*time.Second)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("Failed to age lock file: %v", err)
	}

	lock, err := acquireFileLock(testFile)
	if err != nil {
		t.Fatalf("Failed to acquire lock after stale lock: %v", err)
	}
	defer lock.release()

	if lock.f == nil {
		t.Errorf("Lock file handle is nil")
	}
}

func TestFileLock_BlockedByActiveLock(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "tokens.json")

	first, err := acquireFileLock(testFile)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		second, err := acquireFileLock(testFile)
		if err == nil {
			err = second.release()
		}
		errChan <- err
	}()

	time.Sleep(3 * lockRetryDelay)
	select {
	case <-errChan:
		t.Fatalf("Second lock acquired while first lock was active")
	default:
	}

	first.release()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Second lock failed after first lock released: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Second lock timed out after first lock released")
	}
}

func TestFileLock_SecondReleaseReportsError(t *testing.T) {
	lock, err := acquireFileLock(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.release(); err != nil {
		t.Errorf("First release failed: %v", err)
	}
	if err := lock.release(); err == nil {
		t.Error("second release should report the missing lock file")
	}
}
