package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	lock := New(filepath.Join(t.TempDir(), "test.lock"))
	require.NoError(t, lock.Lock())
	require.NoError(t, lock.Unlock())
}

func TestTryLockRefusedWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	holder := New(path)
	contender := New(path)

	acquired, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = contender.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired, "lock is already held")

	require.NoError(t, holder.Unlock())

	acquired, err = contender.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired, "lock is free again")
	require.NoError(t, contender.Unlock())
}

func TestLockSerializesWriters(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "counter.lock")
	counterPath := filepath.Join(dir, "counter.txt")
	require.NoError(t, os.WriteFile(counterPath, []byte("0"), 0o644))

	const goroutines = 5
	const iterations = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock := New(lockPath)
				if err := lock.Lock(); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				data, _ := os.ReadFile(counterPath)
				var counter int
				fmt.Sscanf(string(data), "%d", &counter)
				os.WriteFile(counterPath, []byte(fmt.Sprintf("%d", counter+1)), 0o644)
				if err := lock.Unlock(); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(counterPath)
	require.NoError(t, err)
	var final int
	fmt.Sscanf(string(data), "%d", &final)
	assert.Equal(t, goroutines*iterations, final)
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("first")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	require.NoError(t, AtomicWrite(path, []byte("second")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAtomicWriteCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	require.NoError(t, AtomicWrite(path, []byte("nested")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AtomicWrite(filepath.Join(dir, "out.txt"), []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.txt", entries[0].Name())
}

func TestConcurrentAtomicWritesNeverTear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			if err := AtomicWrite(path, []byte{byte('A' + id)}); err != nil {
				t.Errorf("write %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 1, "readers only ever see one complete write")
}
