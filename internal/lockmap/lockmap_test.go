// ABOUTME: Tests for keyed mutexes and advisory file locks
// ABOUTME: Verifies mutual exclusion per key and lock lifecycle

package lockmap

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_SerializesSameKey(t *testing.T) {
	m := NewMutexMap()

	const n = 100
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("key")
			counter++
			m.Unlock("key")
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestMutexMap_IndependentKeys(t *testing.T) {
	m := NewMutexMap()

	// Holding one key must not block another.
	m.Lock("a")
	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()
	<-done
	m.Unlock("a")
}

func TestMutexMap_StableMutexPerKey(t *testing.T) {
	m := NewMutexMap()
	assert.Same(t, m.getMutex("x"), m.getMutex("x"))
	assert.NotSame(t, m.getMutex("x"), m.getMutex("y"))
}

func TestFileLock_LockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".test.lock")

	fl := NewFileLock(path)
	require.NoError(t, fl.Lock())
	require.NoError(t, fl.Unlock())

	// Reusable after release.
	require.NoError(t, fl.Lock())
	require.NoError(t, fl.Unlock())
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), ".test.lock"))
	assert.NoError(t, fl.Unlock())
}

func TestFileLock_BlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".test.lock")

	first := NewFileLock(path)
	require.NoError(t, first.Lock())

	acquired := make(chan struct{})
	go func() {
		second := NewFileLock(path)
		assert.NoError(t, second.Lock())
		assert.NoError(t, second.Unlock())
		close(acquired)
	}()

	// The second holder only proceeds once the first releases. flock is
	// per-open-file, so two FileLock values contend even in one process.
	require.NoError(t, first.Unlock())
	<-acquired
}
