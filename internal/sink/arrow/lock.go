package arrow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName guards the snapshot directory against concurrent writers.
const LockFileName = ".snapshot.lock"

const lockPoll = 50 * time.Millisecond

// FileLock is an exclusive flock on <dir>/.snapshot.lock.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
	info LockInfo
}

// LockInfo is written into the lock file while it is held.
type LockInfo struct {
	RunID     string    `json:"run_id"`
	LockedAt  time.Time `json:"locked_at"`
	Operation string    `json:"operation"`
	PID       int       `json:"pid"`
}

func NewFileLock(dir string) *FileLock {
	return &FileLock{path: filepath.Join(dir, LockFileName)}
}

// Lock acquires the lock, polling until timeout.
func (fl *FileLock) Lock(runID, operation string, timeout time.Duration) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		return fmt.Errorf("lock %s already held", fl.path)
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			file.Close()
			return fmt.Errorf("lock %s: timeout after %v", fl.path, timeout)
		}
		time.Sleep(lockPoll)
	}

	fl.file = file
	fl.info = LockInfo{
		RunID:     runID,
		LockedAt:  time.Now().UTC(),
		Operation: operation,
		PID:       os.Getpid(),
	}
	if err := fl.writeInfo(); err != nil {
		fl.release()
		return fmt.Errorf("write lock info: %w", err)
	}
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.release()
}

func (fl *FileLock) release() error {
	if fl.file == nil {
		return nil
	}
	if err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN); err != nil {
		fl.file.Close()
		fl.file = nil
		return fmt.Errorf("unlock: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

func (fl *FileLock) writeInfo() error {
	if err := fl.file.Truncate(0); err != nil {
		return err
	}
	if _, err := fl.file.Seek(0, 0); err != nil {
		return err
	}
	if err := json.NewEncoder(fl.file).Encode(fl.info); err != nil {
		return err
	}
	return fl.file.Sync()
}

// WithLock runs fn while holding the lock on dir.
func WithLock(dir, runID, operation string, timeout time.Duration, fn func() error) error {
	lock := NewFileLock(dir)
	if err := lock.Lock(runID, operation, timeout); err != nil {
		return err
	}
	defer lock.Unlock()

	return fn()
}
