package fabric

import (
	"strconv"
	"time"

	"github.com/stickman-iot/gateway/internal/model"
)

type sensorKey struct {
	typ model.SensorType
	id  uint8
}

// LatestCache is the process-wide "most recent reading per (type, id)"
// snapshot, guarded by a short-timeout mutex: on contention the update is
// skipped rather than blocking the processor.
type LatestCache struct {
	mu   *TimedMutex
	data map[sensorKey]model.Reading
}

// NewLatestCache constructs an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{mu: NewTimedMutex(), data: make(map[sensorKey]model.Reading)}
}

// Update stores reading as the latest sample for its (type, id), skipping
// the write (but not returning an error — this is advisory-only state) if
// the 10ms lock window is missed.
func (c *LatestCache) Update(reading model.Reading) (updated bool) {
	if !c.mu.TryLock(10 * time.Millisecond) {
		return false
	}
	defer c.mu.Unlock()
	c.data[sensorKey{reading.Type, reading.SensorID}] = reading
	return true
}

// Snapshot returns a copy of the full cache, used by the monitor.
func (c *LatestCache) Snapshot() map[string]model.Reading {
	if !c.mu.TryLock(10 * time.Millisecond) {
		return nil
	}
	defer c.mu.Unlock()
	out := make(map[string]model.Reading, len(c.data))
	for k, v := range c.data {
		out[k.typ.String()+"_"+strconv.Itoa(int(k.id))] = v
	}
	return out
}
