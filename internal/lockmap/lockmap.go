// ABOUTME: Keyed in-process mutexes and advisory file locks for the workspace store
// ABOUTME: Serializes read-modify-write cycles on shared task status files

package lockmap

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// MutexMap hands out one mutex per key so that independent keys never
// contend. Mutexes are created lazily and never reclaimed; the key space
// (task and agent ids) is small enough that this does not matter.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// NewMutexMap creates an empty MutexMap.
func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for key, creating it on first use.
func (m *MutexMap) Lock(key string) {
	m.getMutex(key).Lock()
}

// Unlock releases the mutex for key.
func (m *MutexMap) Unlock(key string) {
	m.getMutex(key).Unlock()
}

func (m *MutexMap) getMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

// FileLock is a blocking advisory lock on a sidecar file. It guards
// cross-process read-modify-write of a shared file; sibling hub processes
// pointed at the same workspace each take the flock before rewriting.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unacquired lock for the given sidecar path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the advisory lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}

	fl.file = f
	return nil
}

// Unlock releases the lock. Calling Unlock on an unacquired lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		fl.file = nil
		return fmt.Errorf("release lock: %w", err)
	}

	err := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}
