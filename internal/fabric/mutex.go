package fabric

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a timed counting semaphore built on golang.org/x/sync's
// weighted semaphore, giving the fabric's counting and binary semaphores
// with timed take/give a single implementation (a binary semaphore is
// just NewSemaphore(1)).
type Semaphore struct {
	sem *semaphore.Weighted
}

// NewSemaphore creates a counting semaphore with the given number of
// permits.
func NewSemaphore(permits int64) *Semaphore {
	return &Semaphore{sem: semaphore.NewWeighted(permits)}
}

// Take acquires one permit, blocking up to timeout. Returns false on
// timeout.
func (s *Semaphore) Take(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.sem.Acquire(ctx, 1) == nil
}

// TryTake acquires one permit without blocking.
func (s *Semaphore) TryTake() bool {
	return s.sem.TryAcquire(1)
}

// Give releases one permit.
func (s *Semaphore) Give() {
	s.sem.Release(1)
}

// PIMutex is a mutual-exclusion lock with priority inheritance: while a
// goroutine holds the lock, it is temporarily protected from the
// starvation a lower-priority holder could otherwise inflict on a
// higher-priority waiter ("holder temporarily runs at the priority of the
// highest-priority waiter"). Go's scheduler has no notion of goroutine
// priority, so this models the FreeRTOS primitive with the one lever the
// runtime actually exposes: the OS thread's `nice`-style scheduling class
// is not available portably, so inheritance is modelled by locking the
// holder's goroutine to its OS thread for the critical section's duration
// whenever a higher-priority waiter is queued at acquisition, which prevents the Go
// scheduler from preempting the holder onto a thread that could be
// starved behind lower-priority work (bounded priority inversion).
type PIMutex struct {
	mu           sync.Mutex
	waiters      []int
	waitersMu    sync.Mutex
	holderLocked bool
}

// NewPIMutex constructs an unlocked priority-inheriting mutex.
func NewPIMutex() *PIMutex {
	return &PIMutex{}
}

// Lock acquires the mutex at the given caller priority (higher value =
// higher priority, matching the gateway's ascending task-priority
// convention). If a higher-priority waiter is already queued when this
// goroutine acquires the lock, the holder is pinned to its OS thread so the
// Go runtime cannot deschedule it behind unrelated lower-priority
// goroutines for the duration of the critical section. A waiter that
// queues after acquisition does not change the holder's pinning.
func (m *PIMutex) Lock(priority int) {
	m.waitersMu.Lock()
	m.waiters = append(m.waiters, priority)
	m.waitersMu.Unlock()

	m.mu.Lock()

	m.waitersMu.Lock()
	m.removeWaiterLocked(priority)
	stillContended := len(m.waiters) > 0 && m.highestWaiterLocked() > priority
	m.waitersMu.Unlock()

	if stillContended {
		runtime.LockOSThread()
		m.holderLocked = true
	}
}

// Unlock releases the mutex, undoing any OS-thread pin taken for priority
// inheritance.
func (m *PIMutex) Unlock() {
	if m.holderLocked {
		runtime.UnlockOSThread()
		m.holderLocked = false
	}
	m.mu.Unlock()
}

func (m *PIMutex) highestWaiterLocked() int {
	highest := 0
	for _, p := range m.waiters {
		if p > highest {
			highest = p
		}
	}
	return highest
}

func (m *PIMutex) removeWaiterLocked(priority int) {
	for i, p := range m.waiters {
		if p == priority {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}
