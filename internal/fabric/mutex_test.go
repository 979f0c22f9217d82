package fabric

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreTakeGive(t *testing.T) {
	s := NewSemaphore(1)
	require.True(t, s.Take(time.Second))
	assert.False(t, s.TryTake(), "second permit must not be available")

	s.Give()
	assert.True(t, s.TryTake())
}

func TestSemaphoreTakeTimesOutWhenExhausted(t *testing.T) {
	s := NewSemaphore(1)
	require.True(t, s.Take(time.Second))
	assert.False(t, s.Take(10*time.Millisecond))
}

func TestPIMutexMutualExclusion(t *testing.T) {
	m := NewPIMutex()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(priority int) {
			defer wg.Done()
			m.Lock(priority)
			defer m.Unlock()
			counter++
		}(i % 5)
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
}

func TestPIMutexUnlockWithoutContentionDoesNotPinThread(t *testing.T) {
	m := NewPIMutex()
	m.Lock(1)
	assert.False(t, m.holderLocked, "an uncontended critical section must not pin the OS thread")
	m.Unlock()
}

func TestTimedMutexTryLockUnlock(t *testing.T) {
	m := NewTimedMutex()
	require.True(t, m.TryLock(time.Second))
	m.Unlock()
	assert.True(t, m.TryLock(time.Second))
}

func TestTimedMutexTryLockTimesOutWhenHeld(t *testing.T) {
	m := NewTimedMutex()
	require.True(t, m.TryLock(time.Second))
	assert.False(t, m.TryLock(10*time.Millisecond))
}
