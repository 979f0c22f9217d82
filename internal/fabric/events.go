package fabric

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Bit is one flag in the process-wide event bitset.
type Bit uint32

const (
	EventNetworkConnected Bit = 1 << iota
	EventTLSReady
	EventMQTTConnected
	EventDataReady
	EventShutdown
)

// EventBits is the atomic bitmask primitive every task waits on and sets.
// Waiters block on a condition variable broadcast on every Set/Clear
// rather than polling, so no task busy-waits for a flag to change.
type EventBits struct {
	bits atomic.Uint32
	mu   sync.Mutex
	cond *sync.Cond
}

// NewEventBits constructs an empty bitset.
func NewEventBits() *EventBits {
	e := &EventBits{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Set ORs mask into the bitset and wakes any waiter whose condition might
// now be satisfied.
func (e *EventBits) Set(mask Bit) {
	e.bits.Or(uint32(mask))
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Clear ANDs the complement of mask into the bitset. EventShutdown is set
// exactly once by convention and callers must never clear it.
func (e *EventBits) Clear(mask Bit) {
	e.bits.And(^uint32(mask))
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Get returns the current bitmask.
func (e *EventBits) Get() Bit {
	return Bit(e.bits.Load())
}

// WaitMode selects whether Wait requires all bits in the mask or any of
// them.
type WaitMode int

const (
	WaitAll WaitMode = iota
	WaitAny
)

// Wait blocks until mask is satisfied per mode, clearing the matched bits
// on return if clearOnReturn is set, or until timeout elapses. Returns the
// bitset snapshot observed at wake and whether the wait was satisfied
// (false on timeout).
func (e *EventBits) Wait(mask Bit, mode WaitMode, clearOnReturn bool, timeout time.Duration) (Bit, bool) {
	deadline := time.Now().Add(timeout)
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		cur := Bit(e.bits.Load())
		satisfied := false
		switch mode {
		case WaitAll:
			satisfied = cur&mask == mask
		case WaitAny:
			satisfied = cur&mask != 0
		}
		if satisfied {
			if clearOnReturn {
				e.bits.And(^uint32(mask))
				cur &^= mask
			}
			return cur, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return cur, false
		}
		timer := time.AfterFunc(remaining, func() {
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		})
		e.cond.Wait()
		timer.Stop()
	}
}
